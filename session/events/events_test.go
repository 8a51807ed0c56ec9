package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndSinceNonBlocking(t *testing.T) {
	q := New(0)
	q.Append(Stopped, "thread-1", 1)
	q.Append(Continued, nil, 2)

	recs, next := q.Since(-1, 0, 0)
	require.Len(t, recs, 2)
	require.Equal(t, int64(2), next)
}

func TestSinceRespectsMax(t *testing.T) {
	q := New(0)
	q.Append(Stopped, nil, 1)
	q.Append(Continued, nil, 2)
	q.Append(Thread, nil, 3)

	recs, _ := q.Since(-1, 1, 0)
	require.Len(t, recs, 1)
	require.Equal(t, Stopped, recs[0].Kind)
}

func TestAppendEvictsOldestOnCap(t *testing.T) {
	q := New(2)
	q.Append(Stopped, nil, 1)
	q.Append(Continued, nil, 2)
	q.Append(Thread, nil, 3)

	recs, _ := q.Since(-1, 0, 0)
	require.Len(t, recs, 2)
	require.Equal(t, Continued, recs[0].Kind)
	require.Equal(t, Thread, recs[1].Kind)
	require.Equal(t, int64(1), q.Dropped())
}

func TestSinceBlocksUntilAppend(t *testing.T) {
	q := New(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var recs []Record
	go func() {
		defer wg.Done()
		recs, _ = q.Since(-1, 0, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Append(Stopped, "woke", 1)
	wg.Wait()

	require.Len(t, recs, 1)
	require.Equal(t, "woke", recs[0].Payload)
}

func TestSinceWaitTimesOutWithoutAppend(t *testing.T) {
	q := New(0)
	start := time.Now()
	recs, _ := q.Since(-1, 0, 30*time.Millisecond)
	require.Empty(t, recs)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestCloseWakesBlockedSince(t *testing.T) {
	q := New(0)
	done := make(chan struct{})
	go func() {
		q.Since(-1, 0, time.Minute)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Since did not wake up after Close")
	}
}
