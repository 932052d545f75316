package commitlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogAppendAndStream(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 5; i++ {
		_, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, l.Flush())

	var offsets []uint64
	require.NoError(t, l.TransactionsFrom(0, func(off uint64, payload []byte) error {
		offsets = append(offsets, off)
		require.Equal(t, byte(off), payload[0])
		return nil
	}))
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, offsets)
}

func TestLogReopenPreservesSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	_, err = l.Append([]byte("a"))
	require.NoError(t, err)
	_, err = l.Append([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.NextOffset())

	var got []string
	require.NoError(t, reopened.TransactionsFrom(0, func(_ uint64, payload []byte) error {
		got = append(got, string(payload))
		return nil
	}))
	require.Equal(t, []string{"a", "b"}, got)
}

func TestLogRotatesSegmentsByteBudget(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()
	l.maxSegmentBytes = 1 // force rotation on every append after the first flush

	_, err = l.Append([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	_, err = l.Append([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, l.Flush())

	require.Len(t, l.segments, 2)
}
