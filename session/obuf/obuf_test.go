package obuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndSince(t *testing.T) {
	b := New(0, 0)
	off0 := b.Append(Stdout, []byte("hello"), 1)
	off1 := b.Append(Stderr, []byte("world"), 2)
	require.Equal(t, int64(0), off0)
	require.Equal(t, int64(1), off1)

	recs, next, dropped := b.Since(-1, 0, "")
	require.Len(t, recs, 2)
	require.Equal(t, int64(2), next)
	require.Equal(t, int64(0), dropped)
}

func TestSinceFiltersByStreamAndOffset(t *testing.T) {
	b := New(0, 0)
	b.Append(Stdout, []byte("a"), 1)
	b.Append(Stderr, []byte("b"), 2)
	b.Append(Stdout, []byte("c"), 3)

	recs, _, _ := b.Since(0, 0, Stdout)
	require.Len(t, recs, 1)
	require.Equal(t, "c", string(recs[0].Data))
}

func TestAppendEvictsOldestOnRecordCap(t *testing.T) {
	b := New(0, 2)
	b.Append(Stdout, []byte("a"), 1)
	b.Append(Stdout, []byte("b"), 2)
	b.Append(Stdout, []byte("c"), 3)

	recs, _, dropped := b.Since(-1, 0, "")
	require.Len(t, recs, 2)
	require.Equal(t, "b", string(recs[0].Data))
	require.Equal(t, "c", string(recs[1].Data))
	require.Equal(t, int64(1), dropped)
}

func TestAppendEvictsOldestOnByteCap(t *testing.T) {
	b := New(5, 0)
	b.Append(Stdout, []byte("abc"), 1)
	b.Append(Stdout, []byte("de"), 2)
	// Total so far is 5 bytes, exactly at cap; one more fragment must
	// evict the oldest record to make room.
	b.Append(Stdout, []byte("f"), 3)

	recs, _, dropped := b.Since(-1, 0, "")
	require.Equal(t, int64(1), dropped)
	var total int
	for _, r := range recs {
		total += len(r.Data)
	}
	require.LessOrEqual(t, total, 5)
}

func TestDroppedIsMonotonic(t *testing.T) {
	b := New(0, 1)
	for i := 0; i < 10; i++ {
		b.Append(Stdout, []byte("x"), int64(i))
	}
	require.Equal(t, int64(9), b.Dropped())
}
