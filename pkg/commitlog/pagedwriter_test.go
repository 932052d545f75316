package commitlog

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// memWriteSeeker is an in-memory io.WriteSeeker standing in for a real file,
// so PagedWriter's block/seek arithmetic can be exercised without touching
// disk.
type memWriteSeeker struct {
	data []byte
	pos  int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = base + offset
	return m.pos, nil
}

func TestWriteFlushesAlignedBlocksOnly(t *testing.T) {
	back := &memWriteSeeker{}
	pw := NewPagedWriter(back, 8)

	n, err := pw.Write([]byte("0123456789")) // 10 bytes: one full block + 2 pending
	require.NoError(t, err)
	require.Equal(t, 10, n)

	require.Equal(t, 8, int(back.pos), "only the aligned block should have reached the writer")
	require.Equal(t, 2, pw.Pending())
}

func TestFlushAllPadsAndWritesRemainder(t *testing.T) {
	back := &memWriteSeeker{}
	pw := NewPagedWriter(back, 8)

	_, err := pw.Write([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, pw.FlushAll())
	require.Equal(t, 0, pw.Pending())

	// The padded block was written (16 bytes total on disk) but the cursor
	// rewound to just past the real data (position 10), not the block end.
	require.Equal(t, int64(10), back.pos)
	require.Equal(t, []byte("0123456789\x00\x00\x00\x00\x00\x00"), back.data)
}

func TestWriteAfterFlushOverwritesPadding(t *testing.T) {
	back := &memWriteSeeker{}
	pw := NewPagedWriter(back, 8)

	_, err := pw.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, pw.FlushAll())

	_, err = pw.Write([]byte("AB"))
	require.NoError(t, err)
	require.NoError(t, pw.FlushAll())

	require.Equal(t, []byte("0123456789AB"), back.data[:12], "new write must overwrite the zero padding, not append after it")
}
