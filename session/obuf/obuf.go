// Package obuf implements the bounded per-session output ring spec'd as
// C4: stdout/stderr/console/telemetry fragments with monotonic offsets,
// oldest-first eviction on overflow, and a dropped-count.
package obuf

import (
	"sync"
)

// Stream identifies the origin of an output fragment.
type Stream string

const (
	Stdout     Stream = "stdout"
	Stderr     Stream = "stderr"
	Console    Stream = "console"
	Telemetry  Stream = "telemetry"
	AdapterErr Stream = "adapter-stderr"
)

// Record is one fragment appended to the buffer.
type Record struct {
	Stream    Stream
	Data      []byte
	Offset    int64
	Timestamp int64 // unix nanos, stamped by the caller
}

const (
	DefaultByteCap   = 4 * 1024 * 1024
	DefaultRecordCap = 10000
)

// Buffer is a bounded ring of Records. Zero value is not usable; use
// New.
type Buffer struct {
	mu      sync.Mutex
	records []Record
	bytes   int
	byteCap int
	recCap  int
	nextOff int64
	dropped int64
}

func New(byteCap, recordCap int) *Buffer {
	if byteCap <= 0 {
		byteCap = DefaultByteCap
	}
	if recordCap <= 0 {
		recordCap = DefaultRecordCap
	}
	return &Buffer{byteCap: byteCap, recCap: recordCap}
}

// Append adds a fragment, evicting the oldest records as needed to stay
// within the byte and record caps, and returns the offset assigned to
// it.
func (b *Buffer) Append(stream Stream, data []byte, ts int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := b.nextOff
	b.nextOff++

	rec := Record{Stream: stream, Data: append([]byte(nil), data...), Offset: off, Timestamp: ts}
	b.records = append(b.records, rec)
	b.bytes += len(rec.Data)

	for (b.bytes > b.byteCap || len(b.records) > b.recCap) && len(b.records) > 0 {
		evicted := b.records[0]
		b.records = b.records[1:]
		b.bytes -= len(evicted.Data)
		b.dropped++
	}
	return off
}

// Since returns records with offset strictly greater than sinceOffset,
// up to max records (0 = unbounded), the next offset to poll from, and
// the current dropped count.
func (b *Buffer) Since(sinceOffset int64, max int, streamFilter Stream) (recs []Record, next int64, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.records {
		if r.Offset <= sinceOffset {
			continue
		}
		if streamFilter != "" && r.Stream != streamFilter {
			continue
		}
		recs = append(recs, r)
		if max > 0 && len(recs) >= max {
			break
		}
	}
	return recs, b.nextOff, b.dropped
}

// Dropped returns the monotonically non-decreasing drop count.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
