package mvcc

// TextIndexHandle and VectorIndexHandle are the per-index views a Snapshot
// exposes for search/vector querying and incremental maintenance. Concrete
// implementations live in package search (search.TextIndexManager /
// search.VectorIndexManager implement the two handles, search.Managers
// implements SearchManagers); mvcc only needs the
// shape so Snapshot can hold them without importing search (which itself
// needs to read Snapshot/IndexRegistry).
type TextIndexHandle interface {
	State() IndexState
	// MemoryMinTs is the oldest timestamp present in the in-memory delta;
	// search bootstrap sets it to the successor of the later of DiskTs and
	// FastForwardTs, or of the bootstrap upper bound when the index has no
	// disk segment.
	MemoryMinTs() Timestamp
	DiskSnapshot() *SearchSnapshot
}

type VectorIndexHandle interface {
	State() IndexState
	MemoryMinTs() Timestamp
	DiskSnapshot() *SearchSnapshot
}

// SearchManagers is the bundle of text/vector index managers a Snapshot
// carries, per the Snapshot bundle. Implementations must be
// immutable: updates (search.Managers.WithText/WithVector and
// search.ApplyCommit) return a new value rather than mutating in place,
// matching every other piece of Snapshot state.
type SearchManagers interface {
	TextIndex(id IndexID) (TextIndexHandle, bool)
	VectorIndex(id IndexID) (VectorIndexHandle, bool)
}

// EmptySearchManagers is the zero-value SearchManagers used before search
// bootstrap completes; every lookup reports "not present", which the
// transaction layer surfaces as ErrSearchUnavailable.
type EmptySearchManagers struct{}

func (EmptySearchManagers) TextIndex(IndexID) (TextIndexHandle, bool)     { return nil, false }
func (EmptySearchManagers) VectorIndex(IndexID) (VectorIndexHandle, bool) { return nil, false }
