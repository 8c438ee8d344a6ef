// Package pending implements the commit-pipeline staging area:
// transactions that have been assigned a commit timestamp and
// accepted into the pipeline but are not yet durable. Pending entries are
// visible only to the committer's own staleness check — no other reader
// ever sees them.
//
// Grounded on bundoc/internal/wal/group_commit.go's GroupCommitter, which
// holds in-flight commit requests in submission order until their fsync
// completes; Queue generalizes that to "in-flight until persistence
// completes and the snapshot is published", keyed by commit timestamp
// instead of LSN so the committer can test a read set's staleness against
// it directly.
package pending

import (
	"fmt"
	"sync"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// Write is a pending commit: (commit_ts, ordered_updates,
// write_source)".
type Write struct {
	Ts          mvcc.Timestamp
	Intervals   []mvcc.Interval
	WriteSource string
}

// Queue is the strictly timestamp-sorted pending-write queue. Invariant
//  : always strictly timestamp-sorted, and its minimum is
// <= last_assigned_ts, which the committer maintains by only ever pushing
// timestamps it just assigned.
type Queue struct {
	mu      sync.RWMutex
	entries []Write // ascending by Ts
}

// New returns an empty pending-write queue.
func New() *Queue { return &Queue{} }

// Push appends a newly timestamped commit. It panics if ts is not
// strictly greater than the last pushed timestamp, mirroring the
// committer's single-writer, strictly-increasing commit_ts assignment.
func (q *Queue) Push(w Write) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 && w.Ts <= q.entries[len(q.entries)-1].Ts {
		panic(fmt.Sprintf("pending: push(%d) not strictly after last pushed %d", w.Ts, q.entries[len(q.entries)-1].Ts))
	}
	q.entries = append(q.entries, w)
}

// Pop removes the pending entry at ts. It panics on out-of-order pop (ts
// is not the oldest entry): step 8 requires this to be
// treated as an invariant violation, since persistence completions are
// consumed in commit-timestamp order by construction.
func (q *Queue) Pop(ts mvcc.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 || q.entries[0].Ts != ts {
		panic(fmt.Sprintf("pending: out-of-order pop of %d", ts))
	}
	q.entries = q.entries[1:]
}

// MinTs returns the oldest pending timestamp and true, or (0, false) if
// the queue is empty.
func (q *Queue) MinTs() (mvcc.Timestamp, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].Ts, true
}

// Range returns every pending entry with Ts in (since, upTo], the window
// the committer's staleness check (step 3) scans.
func (q *Queue) Range(since, upTo mvcc.Timestamp) []Write {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Write, 0)
	for _, w := range q.entries {
		if w.Ts > since && w.Ts <= upTo {
			out = append(out, w)
		}
	}
	return out
}

// Len reports how many commits are in flight.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
