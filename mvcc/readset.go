package mvcc

import "bytes"

// Interval is a (tablet, indexed field set, key range) read recorded by a
// transaction: a read set of (tablet_index, indexed_fields,
// interval)". Lo/Hi are inclusive; a nil bound is unbounded on that side.
// Reading a single document records Lo == Hi on the by_id index.
type Interval struct {
	Tablet TabletID
	Index  IndexID
	Fields []string
	Lo, Hi IndexKey
}

// Overlaps reports whether two intervals on the same (tablet, index) could
// share a key. Intervals on different indexes never overlap: a write that
// only touches by_creation_time cannot invalidate a read of by_id, for
// instance.
func (iv Interval) Overlaps(other Interval) bool {
	if iv.Tablet != other.Tablet || iv.Index != other.Index {
		return false
	}
	if iv.Hi != nil && other.Lo != nil && bytes.Compare(iv.Hi, other.Lo) < 0 {
		return false
	}
	if other.Hi != nil && iv.Lo != nil && bytes.Compare(other.Hi, iv.Lo) < 0 {
		return false
	}
	return true
}

// ContainsKey reports whether key falls within the interval.
func (iv Interval) ContainsKey(key IndexKey) bool {
	if iv.Lo != nil && bytes.Compare(key, iv.Lo) < 0 {
		return false
	}
	if iv.Hi != nil && bytes.Compare(key, iv.Hi) > 0 {
		return false
	}
	return true
}

// ReadSet is the set of intervals (plus documents read, for accounting) a
// transaction accumulates. It is evaluated for staleness against every
// write-log entry and pending write in (begin_ts, commit_ts].
type ReadSet struct {
	Intervals    []Interval
	DocsReadHint int // read-document accounting, used for limits/metrics only
}

// RecordRange appends an interval read, coalescing it with the first
// recorded interval on the same (tablet, index) that it overlaps, which
// keeps read sets small for range scans built up one page at a time.
// Intervals that merely touch without sharing a key are kept separate.
func (rs *ReadSet) RecordRange(iv Interval) {
	for i := range rs.Intervals {
		if rs.Intervals[i].Overlaps(iv) {
			rs.Intervals[i] = mergeIntervals(rs.Intervals[i], iv)
			return
		}
	}
	rs.Intervals = append(rs.Intervals, iv)
}

func mergeIntervals(a, b Interval) Interval {
	// A nil bound is unbounded, so it wins over any concrete bound.
	var lo, hi IndexKey
	if a.Lo != nil && b.Lo != nil {
		lo = a.Lo
		if bytes.Compare(b.Lo, lo) < 0 {
			lo = b.Lo
		}
	}
	if a.Hi != nil && b.Hi != nil {
		hi = a.Hi
		if bytes.Compare(b.Hi, hi) > 0 {
			hi = b.Hi
		}
	}
	return Interval{Tablet: a.Tablet, Index: a.Index, Fields: a.Fields, Lo: lo, Hi: hi}
}

// OverlapsAny reports whether any interval in rs overlaps any interval in
// writtenKeys, and if so returns the first offending interval description.
func (rs *ReadSet) OverlapsAny(written []Interval) (Interval, bool) {
	for _, r := range rs.Intervals {
		for _, w := range written {
			if r.Overlaps(w) {
				return r, true
			}
		}
	}
	return Interval{}, false
}
