package snapshot

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	offset uint64
	ok     bool
	data   []byte
}

func (f *fakeSource) BeginSnapshot() (uint64, func(), bool) {
	return f.offset, func() {}, f.ok
}

func (f *fakeSource) WriteTables(w io.Writer) error {
	_, err := w.Write(f.data)
	return err
}

func TestTakeSnapshotRefusesEmptyDatabase(t *testing.T) {
	w := NewWorker(t.TempDir())
	_, err := w.TakeSnapshot(&fakeSource{ok: false})
	require.ErrorIs(t, err, ErrEmptyDatabase)

	manifests, err := w.ListManifests()
	require.NoError(t, err)
	require.Empty(t, manifests)
}

func TestTakeSnapshotWritesManifest(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir)
	var observed []string
	w.Observe = func(phase string, _ PhaseTiming) { observed = append(observed, phase) }

	m, err := w.TakeSnapshot(&fakeSource{offset: 42, ok: true, data: []byte("row-bytes")})
	require.NoError(t, err)
	require.Equal(t, uint64(42), m.Offset)
	require.False(t, m.Compressed)
	require.Equal(t, []string{"snapshot", "compress"}, observed)

	manifests, err := w.ListManifests()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Equal(t, uint64(42), manifests[0].Offset)
}

func TestCompressOlderSnapshotsLeavesNewestAlone(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir)

	for i := uint64(1); i <= 3; i++ {
		_, err := w.TakeSnapshot(&fakeSource{offset: i, ok: true, data: []byte(fmt.Sprintf("data-%d", i))})
		require.NoError(t, err)
	}

	require.NoError(t, w.CompressOlderSnapshots())

	manifests, err := w.ListManifests()
	require.NoError(t, err)
	require.Len(t, manifests, 3)
	require.True(t, manifests[0].Compressed)
	require.True(t, manifests[1].Compressed)
	require.False(t, manifests[2].Compressed, "newest snapshot stays uncompressed")
}
