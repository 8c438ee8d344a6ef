package mvcc

import (
	"bytes"
	"sort"
)

// IndexKey is the encoded key bytes an in-memory database index is sorted
// on. This package leaves the exact encoding-versus-
// persistence-version relationship unspecified; this module only requires
// that IndexKey have a total byte order, so callers may encode however
// their field types demand (the committer/transaction layer owns that).
type IndexKey []byte

// IndexEntry is one (key, doc, ts) row of an in-memory index: point and
// range reads return entries in this shape.
type IndexEntry struct {
	Key IndexKey
	Doc DocumentID
	Ts  Timestamp
}

// MemoryIndex is a sorted, immutable, copy-on-write index over IndexKey.
// Grounded on bundoc/storage/btree_internal.go's sorted-key traversal,
// generalized from a mutable on-disk B+Tree to an in-memory persistent
// structure: every Upsert/Delete returns a new *MemoryIndex, so a
// published Snapshot's indexes never change under a concurrent reader.
//
// A sorted slice (rather than a tree) is deliberate: commits apply a
// batch of updates at once, so the amortized cost of a single rebuild-by-
// merge is lower than of n individual tree mutations, and range scans are
// a simple slice of a read-only backing array.
type MemoryIndex struct {
	entries  []IndexEntry
	sizeHint int // number of bytes of Key across all entries, for heap accounting
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex { return &MemoryIndex{} }

func cmpEntry(a, b IndexEntry) int {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	if a.Doc.Less(b.Doc) {
		return -1
	}
	if b.Doc.Less(a.Doc) {
		return 1
	}
	return 0
}

// search returns the position of the first entry >= e.
func (m *MemoryIndex) search(e IndexEntry) int {
	return sort.Search(len(m.entries), func(i int) bool { return cmpEntry(m.entries[i], e) >= 0 })
}

// Upsert applies a batch of entry replacements (removing any prior entry
// for the same document id on this index before inserting the new one,
// when present) and returns a new index value.
func (m *MemoryIndex) Upsert(removals []DocumentID, additions []IndexEntry) *MemoryIndex {
	removeSet := make(map[DocumentID]bool, len(removals))
	for _, id := range removals {
		removeSet[id] = true
	}
	next := make([]IndexEntry, 0, len(m.entries)+len(additions))
	for _, e := range m.entries {
		if removeSet[e.Doc] {
			continue
		}
		next = append(next, e)
	}
	next = append(next, additions...)
	sort.Slice(next, func(i, j int) bool { return cmpEntry(next[i], next[j]) < 0 })

	size := 0
	for _, e := range next {
		size += len(e.Key)
	}
	return &MemoryIndex{entries: next, sizeHint: size}
}

// Get performs a point read: the first entry (in key, then document id,
// order) whose key equals target, or false if none exists.
func (m *MemoryIndex) Get(target IndexKey) (IndexEntry, bool) {
	lo := sort.Search(len(m.entries), func(i int) bool { return bytes.Compare(m.entries[i].Key, target) >= 0 })
	if lo < len(m.entries) && bytes.Equal(m.entries[lo].Key, target) {
		return m.entries[lo], true
	}
	return IndexEntry{}, false
}

// Range returns every entry with Key in [lo, hi] (inclusive on both ends,
// matching "by_id range [id, id]" point reads). A nil
// bound is unbounded on that side.
func (m *MemoryIndex) Range(lo, hi IndexKey) []IndexEntry {
	start := 0
	if lo != nil {
		start = sort.Search(len(m.entries), func(i int) bool { return bytes.Compare(m.entries[i].Key, lo) >= 0 })
	}
	end := len(m.entries)
	if hi != nil {
		end = sort.Search(len(m.entries), func(i int) bool { return bytes.Compare(m.entries[i].Key, hi) > 0 })
	}
	if start >= end {
		return nil
	}
	out := make([]IndexEntry, end-start)
	copy(out, m.entries[start:end])
	return out
}

// Len reports how many entries the index holds.
func (m *MemoryIndex) Len() int { return len(m.entries) }

// SizeBytes reports the heap-size accounting hard limits are enforced
// against (every in-memory collection carries its own size
// counter").
func (m *MemoryIndex) SizeBytes() int { return m.sizeHint }
