// Package search implements text/vector index bootstrap and the read-only
// handles a Snapshot carries for querying (mvcc.TextIndexHandle,
// mvcc.VectorIndexHandle, mvcc.SearchManagers). Bootstrap replay is
// grounded on the "stream the document log, replay into disk
// segments, swap in atomically" algorithm, using panjf2000/ants/v2 for
// bounded-concurrency fan-out across tablets the way bundoc's
// internal/pool worker bookkeeping bounds concurrent page fetches.
package search

import (
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/searcher"
)

// TextIndexManager is the per-index handle a Snapshot carries for a text
// index: its backfill state, the oldest timestamp its in-memory delta
// covers, the disk segment bootstrap most recently produced, and the
// accumulated delta documents committed since that disk segment.
//
// memoryDocs accumulates every revision applied since bootstrap (or since
// Backfilling began, for an index with no disk segment yet); it is kept
// as plain SegmentDoc values rather than re-encoded into a segment handle
// on every commit, since memory-index hard limits bound
// it to a small size and Segments() only pays the encoding cost when a
// query actually needs it.
type TextIndexManager struct {
	state       mvcc.IndexState
	memoryMinTs mvcc.Timestamp
	disk        *mvcc.SearchSnapshot
	memoryDocs  []searcher.SegmentDoc
	field       string
}

func NewTextIndexManager(state mvcc.IndexState, memoryMinTs mvcc.Timestamp, disk *mvcc.SearchSnapshot, field string) *TextIndexManager {
	return &TextIndexManager{state: state, memoryMinTs: memoryMinTs, disk: disk, field: field}
}

func (m *TextIndexManager) State() mvcc.IndexState             { return m.state }
func (m *TextIndexManager) MemoryMinTs() mvcc.Timestamp        { return m.memoryMinTs }
func (m *TextIndexManager) DiskSnapshot() *mvcc.SearchSnapshot { return m.disk }
func (m *TextIndexManager) Field() string                      { return m.field }

// WithRevision returns a new manager with one document revision folded
// into the memory delta: removing any existing entry for the internal id
// (an update or delete) and, for non-tombstone revisions, appending the
// re-tokenized terms. Per step 4, callers skip revisions
// before MemoryMinTs before calling this.
func (m *TextIndexManager) WithRevision(doc *SegmentRevision) *TextIndexManager {
	next := *m
	next.memoryDocs = removeDoc(m.memoryDocs, doc.InternalID)
	if doc.Terms != nil || doc.Vector != nil {
		next.memoryDocs = append(next.memoryDocs, searcher.SegmentDoc{
			InternalID: doc.InternalID, Ts: doc.Ts, CreatedAt: doc.CreatedAt, Terms: doc.Terms,
		})
	}
	return &next
}

// WithMemoryMinTs returns a copy stamped with a new memory-delta floor.
// Bootstrap sets the floor when it constructs the manager; nothing in this
// module calls WithMemoryMinTs.
func (m *TextIndexManager) WithMemoryMinTs(ts mvcc.Timestamp) *TextIndexManager {
	next := *m
	next.memoryMinTs = ts
	return &next
}

// WithDiskSnapshot returns a copy with the disk segment replaced and the
// memory delta cleared, for the rebuild path that folds the delta into a
// fresh disk segment (beyond this module's scope; kept for symmetry with
// WithMemoryMinTs).
func (m *TextIndexManager) WithDiskSnapshot(disk *mvcc.SearchSnapshot, newMinTs mvcc.Timestamp) *TextIndexManager {
	return &TextIndexManager{state: mvcc.IndexEnabled, memoryMinTs: newMinTs, disk: disk, field: m.field}
}

// Segments materializes the disk and memory-delta segment handles a
// searcher.Provider query needs, encoding the in-memory delta into a
// fresh content-addressed blob on every call. Callers query both and
// merge results client-side (package transaction does this), matching
// the "union of on-disk segments and an in-memory delta".
func (m *TextIndexManager) Segments(storage searcher.Storage) ([]searcher.SegmentHandle, error) {
	var out []searcher.SegmentHandle
	if m.disk != nil && m.disk.DiskKey != "" {
		out = append(out, searcher.SegmentHandle(m.disk.DiskKey))
	}
	if len(m.memoryDocs) > 0 {
		h, err := searcher.EncodeSegment(storage, m.memoryDocs)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// VectorIndexManager is the vector-index analogue of TextIndexManager.
type VectorIndexManager struct {
	state       mvcc.IndexState
	memoryMinTs mvcc.Timestamp
	disk        *mvcc.SearchSnapshot
	memoryDocs  []searcher.SegmentDoc
	field       string
	dimension   int
}

func NewVectorIndexManager(state mvcc.IndexState, memoryMinTs mvcc.Timestamp, disk *mvcc.SearchSnapshot, field string, dimension int) *VectorIndexManager {
	return &VectorIndexManager{state: state, memoryMinTs: memoryMinTs, disk: disk, field: field, dimension: dimension}
}

func (m *VectorIndexManager) State() mvcc.IndexState             { return m.state }
func (m *VectorIndexManager) MemoryMinTs() mvcc.Timestamp        { return m.memoryMinTs }
func (m *VectorIndexManager) DiskSnapshot() *mvcc.SearchSnapshot { return m.disk }
func (m *VectorIndexManager) Field() string                      { return m.field }
func (m *VectorIndexManager) Dimension() int                     { return m.dimension }

// WithRevision is VectorIndexManager's analogue of
// TextIndexManager.WithRevision.
func (m *VectorIndexManager) WithRevision(doc *SegmentRevision) *VectorIndexManager {
	next := *m
	next.memoryDocs = removeDoc(m.memoryDocs, doc.InternalID)
	if doc.Vector != nil {
		next.memoryDocs = append(next.memoryDocs, searcher.SegmentDoc{
			InternalID: doc.InternalID, Ts: doc.Ts, CreatedAt: doc.CreatedAt, Vector: doc.Vector,
		})
	}
	return &next
}

func (m *VectorIndexManager) WithMemoryMinTs(ts mvcc.Timestamp) *VectorIndexManager {
	next := *m
	next.memoryMinTs = ts
	return &next
}

func (m *VectorIndexManager) Segments(storage searcher.Storage) ([]searcher.SegmentHandle, error) {
	var out []searcher.SegmentHandle
	if m.disk != nil && m.disk.DiskKey != "" {
		out = append(out, searcher.SegmentHandle(m.disk.DiskKey))
	}
	if len(m.memoryDocs) > 0 {
		h, err := searcher.EncodeSegment(storage, m.memoryDocs)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// SegmentRevision is one document revision folded into a text/vector
// manager's memory delta; a nil Terms/Vector (paired with the document
// being a tombstone) removes any existing entry without adding one back.
type SegmentRevision struct {
	InternalID uint64
	Ts         mvcc.Timestamp
	CreatedAt  mvcc.Timestamp
	Terms      []string
	Vector     []float32
}

func removeDoc(docs []searcher.SegmentDoc, id uint64) []searcher.SegmentDoc {
	out := make([]searcher.SegmentDoc, 0, len(docs))
	for _, d := range docs {
		if d.InternalID != id {
			out = append(out, d)
		}
	}
	return out
}

// Managers is the immutable SearchManagers bundle a Snapshot holds: one
// TextIndexManager or VectorIndexManager per bootstrapped index. Every
// mutation (WithText/WithVector) returns a new Managers value, matching
// every other piece of Snapshot state never being mutated in place.
type Managers struct {
	text   map[mvcc.IndexID]*TextIndexManager
	vector map[mvcc.IndexID]*VectorIndexManager
}

// NewManagers returns an empty bundle.
func NewManagers() *Managers {
	return &Managers{text: make(map[mvcc.IndexID]*TextIndexManager), vector: make(map[mvcc.IndexID]*VectorIndexManager)}
}

func (m *Managers) TextIndex(id mvcc.IndexID) (mvcc.TextIndexHandle, bool) {
	h, ok := m.text[id]
	return h, ok
}

func (m *Managers) VectorIndex(id mvcc.IndexID) (mvcc.VectorIndexHandle, bool) {
	h, ok := m.vector[id]
	return h, ok
}

// WithText returns a new bundle with one text index manager replaced.
func (m *Managers) WithText(id mvcc.IndexID, h *TextIndexManager) *Managers {
	next := m.clone()
	next.text[id] = h
	return next
}

// WithVector returns a new bundle with one vector index manager replaced.
func (m *Managers) WithVector(id mvcc.IndexID, h *VectorIndexManager) *Managers {
	next := m.clone()
	next.vector[id] = h
	return next
}

func (m *Managers) clone() *Managers {
	next := NewManagers()
	for k, v := range m.text {
		next.text[k] = v
	}
	for k, v := range m.vector {
		next.vector[k] = v
	}
	return next
}
