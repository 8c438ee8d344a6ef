package mvcc

import (
	"fmt"
	"sync"
)

// Snapshot is the immutable bundle a transaction reads against: table registry, index
// registry, in-memory database indexes, text/vector index managers, and
// table-summary statistics, all tied to a single commit timestamp.
//
// A Snapshot is never mutated after it is published; each new snapshot is
// built through the With* copy methods, which leave the receiver
// untouched.
type Snapshot struct {
	Timestamp     Timestamp
	Tables        *TableRegistry
	Indexes       *IndexRegistry
	MemoryIndexes map[IndexID]*MemoryIndex
	Search        SearchManagers
	Summaries     *TableSummaries
}

// NewEmptySnapshot returns the bootstrap snapshot a fresh database starts
// from, at timestamp 0.
func NewEmptySnapshot() *Snapshot {
	return &Snapshot{
		Timestamp:     0,
		Tables:        NewTableRegistry(),
		Indexes:       NewIndexRegistry(),
		MemoryIndexes: make(map[IndexID]*MemoryIndex),
		Search:        EmptySearchManagers{},
		Summaries:     NewTableSummaries(),
	}
}

// WithMemoryIndex returns a shallow-copied Snapshot with one memory index
// replaced, leaving every other field shared with the receiver. This is
// the building block committer.applyUpdates uses to produce each new
// published Snapshot.
func (s *Snapshot) WithMemoryIndex(id IndexID, idx *MemoryIndex) *Snapshot {
	next := *s
	m := make(map[IndexID]*MemoryIndex, len(s.MemoryIndexes)+1)
	for k, v := range s.MemoryIndexes {
		m[k] = v
	}
	m[id] = idx
	next.MemoryIndexes = m
	return &next
}

// WithTables returns a shallow copy with a new table registry.
func (s *Snapshot) WithTables(t *TableRegistry) *Snapshot {
	next := *s
	next.Tables = t
	return &next
}

// WithIndexes returns a shallow copy with a new index registry.
func (s *Snapshot) WithIndexes(i *IndexRegistry) *Snapshot {
	next := *s
	next.Indexes = i
	return &next
}

// WithSummaries returns a shallow copy with new table summaries.
func (s *Snapshot) WithSummaries(sum *TableSummaries) *Snapshot {
	next := *s
	next.Summaries = sum
	return &next
}

// WithSearch returns a shallow copy with new search/vector managers. Used
// exclusively by the "overwrite last" bootstrap-finalization path.
func (s *Snapshot) WithSearch(sm SearchManagers) *Snapshot {
	next := *s
	next.Search = sm
	return &next
}

// WithTimestamp returns a shallow copy stamped at a new timestamp. Used by
// the committer to publish the result of applying a commit's updates.
func (s *Snapshot) WithTimestamp(ts Timestamp) *Snapshot {
	next := *s
	next.Timestamp = ts
	return &next
}

// entry pairs a timestamp with the snapshot published at it.
type entry struct {
	ts       Timestamp
	snapshot *Snapshot
}

// Manager holds the strictly timestamp-ordered sequence of (T, Snapshot)
// required to always have at least one entry.
//
// Grounded on bundoc/mvcc.SnapshotManager's map+mutex shape, generalized
// from "one snapshot per in-flight transaction, released on commit/abort"
// to "one growing, timestamp-ordered log of published snapshots, trimmed
// by whoever is responsible for retention" (retention is the external
// collaborator elsewhere, not mvcc's concern).
//
// Exactly one writer (the committer) calls Push/OverwriteLast; any number
// of readers call Latest/At concurrently. The write lock is held only
// across the pointer append, never across I/O — matching Design Note 9's
// "do not expose a public lock" guidance: callers get typed operations,
// not the mutex itself.
type Manager struct {
	mu      sync.RWMutex
	entries []entry // sorted ascending by ts
}

// NewManager returns a Manager seeded with the given initial snapshot.
func NewManager(initial *Snapshot) *Manager {
	return &Manager{entries: []entry{{ts: initial.Timestamp, snapshot: initial}}}
}

// Latest returns the most recently published (timestamp, snapshot) pair.
func (m *Manager) Latest() (Timestamp, *Snapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last := m.entries[len(m.entries)-1]
	return last.ts, last.snapshot
}

// Push publishes a new snapshot. It panics if ts is not strictly greater
// than the current latest timestamp: an out-of-order
// publish is a snapshot-manager invariant violation and therefore fatal,
// not a recoverable error.
func (m *Manager) Push(ts Timestamp, snapshot *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.entries[len(m.entries)-1]
	if ts <= last.ts {
		panic(fmt.Sprintf("mvcc: snapshot manager invariant violated: push(%d) after latest %d", ts, last.ts))
	}
	m.entries = append(m.entries, entry{ts: ts, snapshot: snapshot})
}

// At returns the snapshot at the largest published timestamp <= ts. It
// returns false if ts predates every retained snapshot (the caller should
// treat this as a retention violation, not an mvcc-level error).
func (m *Manager) At(ts Timestamp) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// entries is small in practice (retention trims it); linear scan from
	// the end is both simple and cache-friendly for the common case of
	// reading at or near the latest timestamp.
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ts <= ts {
			return m.entries[i].snapshot, true
		}
	}
	return nil, false
}

// OverwriteLastSearch atomically swaps in refreshed text/vector index
// managers on the latest snapshot without changing its timestamp. expectTs
// guards against a concurrent Push: if the latest timestamp has moved
// since the caller observed it, the swap is rejected so bootstrap
// finalization does not silently discard a newer commit's snapshot.
func (m *Manager) OverwriteLastSearch(expectTs Timestamp, sm SearchManagers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := &m.entries[len(m.entries)-1]
	if last.ts != expectTs {
		return fmt.Errorf("mvcc: overwrite-last-search rejected: latest moved from %d to %d", expectTs, last.ts)
	}
	last.snapshot = last.snapshot.WithSearch(sm)
	return nil
}

// OverwriteLastMemoryIndexes atomically swaps in freshly materialized
// in-memory database indexes (committer.LoadIndexesIntoMemory) without
// changing the latest timestamp, under the same concurrent-publish guard
// as OverwriteLastSearch.
func (m *Manager) OverwriteLastMemoryIndexes(expectTs Timestamp, indexes map[IndexID]*MemoryIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := &m.entries[len(m.entries)-1]
	if last.ts != expectTs {
		return fmt.Errorf("mvcc: overwrite-last-memory-indexes rejected: latest moved from %d to %d", expectTs, last.ts)
	}
	next := *last.snapshot
	merged := make(map[IndexID]*MemoryIndex, len(next.MemoryIndexes)+len(indexes))
	for k, v := range next.MemoryIndexes {
		merged[k] = v
	}
	for k, v := range indexes {
		merged[k] = v
	}
	next.MemoryIndexes = merged
	last.snapshot = &next
	return nil
}

// TrimBefore drops retained snapshots older than ts, keeping at least one
// entry (the one at or before ts, so At never loses coverage for anything
// still reachable). Called by the retention collaborator, not by the
// committer itself.
func (m *Manager) TrimBefore(ts Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cut := 0
	for i := 0; i < len(m.entries)-1; i++ {
		if m.entries[i+1].ts <= ts {
			cut = i + 1
		} else {
			break
		}
	}
	if cut > 0 {
		m.entries = append([]entry{}, m.entries[cut:]...)
	}
}
