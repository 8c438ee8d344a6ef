// Package writelog implements the bounded ring of recently committed
// updates: a dense, timestamp-ordered log used
// both to reject stale reads during commit validation and to drive
// subscription invalidation.
//
// Grounded on bundoc/internal/wal's segment-and-rotation idiom
// (internal/wal/wal.go, internal/wal/segment.go), generalized from
// "durable append-only log of bytes, rotated by size" to "bounded
// in-memory ring of coalesced updates, rotated by count" — durability is
// the persistence collaborator's job  , not this package's.
package writelog

import (
	"sync"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// Entry is one write-log record: (commit_ts, coalesced_
// updates, write_source)". Intervals holds just the intervals each update
// touched per index, which is all staleness checking and invalidation
// need; the full document payload lives in persistence.
type Entry struct {
	Ts         mvcc.Timestamp
	Intervals  []mvcc.Interval
	WriteSource string
}

// Log is the bounded ring buffer. MaxLen bounds its length; the oldest
// entry is evicted once the ring is full. LowWaterMark is the timestamp
// just before the oldest retained entry: if it exceeds a subscription's
// begin_ts, that subscription is invalid.
type Log struct {
	mu      sync.RWMutex
	maxLen  int
	entries []Entry // ascending by Ts, dense (no gaps) while non-empty
}

// New returns an empty log bounded to maxLen entries.
func New(maxLen int) *Log {
	if maxLen < 1 {
		maxLen = 1
	}
	return &Log{maxLen: maxLen}
}

// Append adds a new entry. It panics if ts is not strictly greater than
// the last appended timestamp: write-log continuity is a
// committer-side invariant, not something this package can repair.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 && e.Ts <= l.entries[len(l.entries)-1].Ts {
		panic("writelog: append out of order")
	}
	l.entries = append(l.entries, e)
	if len(l.entries) > l.maxLen {
		l.entries = l.entries[len(l.entries)-l.maxLen:]
	}
}

// LowWaterMark returns the timestamp just before the oldest entry the log
// still holds, so the entries cover (LowWaterMark, Latest]. A begin_ts
// before this value cannot be proven valid and must resubscribe/retry; one
// at or after it can. Returns 0 if the log is empty (nothing has rotated
// out yet).
func (l *Log) LowWaterMark() mvcc.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[0].Ts.Pred()
}

// Latest returns the most recently appended timestamp, or 0 if empty.
func (l *Log) Latest() mvcc.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Ts
}

// Range returns every entry with Ts in (since, upTo], the exact window
// the staleness and validity-extension checks scan.
func (l *Log) Range(since, upTo mvcc.Timestamp) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.Ts > since && e.Ts <= upTo {
			out = append(out, e)
		}
	}
	return out
}

// OverlapsInterval reports whether any entry in (since, upTo] has an
// interval overlapping iv, and if so returns the offending entry.
func (l *Log) OverlapsInterval(since, upTo mvcc.Timestamp, iv mvcc.Interval) (Entry, bool) {
	for _, e := range l.Range(since, upTo) {
		for _, w := range e.Intervals {
			if iv.Overlaps(w) {
				return e, true
			}
		}
	}
	return Entry{}, false
}
