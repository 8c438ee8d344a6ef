// Package mvcc holds the timestamp-ordered snapshot sequence: the table
// registry, index registry, in-memory indexes, and table-summary
// statistics bundled into an immutable Snapshot, plus the Manager
// that publishes new snapshots under a single writer lock while readers
// take a cheap shared handle to the latest one.
//
// Grounded on bundoc/mvcc: Timestamp generalizes mvcc.Timestamp's atomic
// monotonic counter, and Manager generalizes mvcc.SnapshotManager's
// map-of-active-snapshots into the append-only, timestamp-ordered sequence
// commit ordering requires.
package mvcc

import "fmt"

// Timestamp is the 64-bit monotonic logical clock commit ordering is built on.
// It is dense: every value in [0, latest] that has ever been assigned to a
// commit is meaningful, and Succ/Pred move exactly one tick.
type Timestamp uint64

// Succ returns the next timestamp.
func (t Timestamp) Succ() Timestamp { return t + 1 }

// Pred returns the previous timestamp. Pred(0) is 0: the clock never goes
// negative; callers at the origin of time must treat Pred(0) as "no prior
// timestamp" rather than wrapping.
func (t Timestamp) Pred() Timestamp {
	if t == 0 {
		return 0
	}
	return t - 1
}

func (t Timestamp) String() string { return fmt.Sprintf("ts(%d)", uint64(t)) }

// Max returns the larger of two timestamps.
func Max(a, b Timestamp) Timestamp {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of two timestamps.
func Min(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}
