package core

import (
	"sort"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// DocumentUpdate is one entry of a transaction's write set: an ordered map
// document_id -> DocumentUpdate{ old: Option<(Doc, T)>,
// new: Option<Doc> }". Old/New being nil models the Option: a nil Old is
// an insert, a nil New is a delete.
type DocumentUpdate struct {
	ID    DocumentID
	Old   *Document
	OldTs mvcc.Timestamp
	New   *Document
}

// IsInsert reports whether this update creates a document that did not
// exist before.
func (u DocumentUpdate) IsInsert() bool { return u.Old == nil && u.New != nil }

// IsDelete reports whether this update tombstones a document.
func (u DocumentUpdate) IsDelete() bool { return u.Old != nil && u.New == nil }

// IsReplace reports whether this update replaces a live document with a
// new revision.
func (u DocumentUpdate) IsReplace() bool { return u.Old != nil && u.New != nil }

// WriteSet is the ordered map of a transaction's staged writes. Ordered by
// DocumentID for deterministic iteration; the committer re-sorts by the
// table-dependency key before applying (see committer.sortWrites).
type WriteSet struct {
	order   []DocumentID
	updates map[DocumentID]DocumentUpdate
}

// NewWriteSet returns an empty write set.
func NewWriteSet() *WriteSet {
	return &WriteSet{updates: make(map[DocumentID]DocumentUpdate)}
}

// Stage records (or coalesces with an existing) update for id. Coalescing
// keeps the original Old/OldTs (the value visible at begin_ts) and
// replaces New, so two writes to the same id within one transaction
// collapse into a single net effect: a write set ...
// Coalesced on commit."
func (ws *WriteSet) Stage(u DocumentUpdate) {
	if existing, ok := ws.updates[u.ID]; ok {
		u.Old = existing.Old
		u.OldTs = existing.OldTs
	} else {
		ws.order = append(ws.order, u.ID)
	}
	ws.updates[u.ID] = u
}

// Get returns the staged update for id, if any.
func (ws *WriteSet) Get(id DocumentID) (DocumentUpdate, bool) {
	u, ok := ws.updates[id]
	return u, ok
}

// Len reports how many documents have staged writes.
func (ws *WriteSet) Len() int { return len(ws.order) }

// Ordered returns the staged updates sorted by DocumentID (the committer
// re-sorts this for application order).
func (ws *WriteSet) Ordered() []DocumentUpdate {
	out := make([]DocumentUpdate, 0, len(ws.order))
	for _, id := range ws.order {
		out = append(out, ws.updates[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// Merge folds another write set's updates into ws in the other's order,
// used when a nested sub-transaction commits into its parent.
func (ws *WriteSet) Merge(other *WriteSet) {
	for _, u := range other.Ordered() {
		ws.Stage(u)
	}
}
