// Package events implements the bounded per-session event FIFO spec'd
// as C5: monotonic offsets, blocking and non-blocking drains, oldest-
// first eviction with a dropped counter signalled via a condition
// variable so poll_events(wait_ms>0) can block efficiently.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the event kinds exposed upward per spec.md 3.
type Kind string

const (
	Stopped          Kind = "stopped"
	Continued        Kind = "continued"
	Terminated       Kind = "terminated"
	Exited           Kind = "exited"
	Thread           Kind = "thread"
	OutputAvailable  Kind = "output-available"
	BreakpointChange Kind = "breakpoint-changed"
	Module           Kind = "module"
	Failure          Kind = "failure"
)

// Record is one event record.
type Record struct {
	Kind      Kind
	Payload   any
	Offset    int64
	Timestamp int64
}

const DefaultCap = 1000

// Queue is a bounded FIFO with a condition variable signalled on every
// append, so blocking drains wake promptly without polling.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	records []Record
	cap     int
	nextOff int64
	dropped int64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	q := &Queue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append adds a record and wakes any blocked drains.
func (q *Queue) Append(kind Kind, payload any, ts int64) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	off := q.nextOff
	q.nextOff++

	q.records = append(q.records, Record{Kind: kind, Payload: payload, Offset: off, Timestamp: ts})
	for len(q.records) > q.cap {
		q.records = q.records[1:]
		q.dropped++
	}
	q.cond.Broadcast()
	return off
}

// Since returns records with offset strictly greater than sinceOffset,
// up to max (0 = unbounded), and the next offset to poll from. If none
// are available and wait is positive, it blocks up to wait for the
// first new record to arrive.
func (q *Queue) Since(sinceOffset int64, max int, wait time.Duration) (recs []Record, next int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	collect := func() []Record {
		var out []Record
		for _, r := range q.records {
			if r.Offset <= sinceOffset {
				continue
			}
			out = append(out, r)
			if max > 0 && len(out) >= max {
				break
			}
		}
		return out
	}

	recs = collect()
	if len(recs) > 0 || wait <= 0 {
		return recs, q.nextOff
	}

	deadline := time.Now().Add(wait)
	for len(recs) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		woke := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
			close(woke)
		})
		q.cond.Wait()
		timer.Stop()
		select {
		case <-woke:
		default:
		}
		recs = collect()
		if len(recs) == 0 {
			// Only Append, Close and a deadline timer (this call's or
			// another poller's) broadcast on cond, so a wake with nothing
			// new to collect ends the wait.
			break
		}
	}
	return recs, q.nextOff
}

// Dropped returns the monotonically non-decreasing drop count.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes any blocked Since calls (used on session termination so
// pollers observe the terminated event promptly).
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}
