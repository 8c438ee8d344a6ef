package syncbase

import (
	"context"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/persistence"
)

// snapshotReader is the transaction.SnapshotReader a Transaction evaluates
// gets and searches against: a fixed *mvcc.Snapshot for the in-memory
// indexes, registries, and search managers, plus a live handle back to the
// owning Database for the two things a Snapshot alone cannot answer —
// fetching a document's current value from persistence, and allocating a
// globally unique InternalID for Insert.
type snapshotReader struct {
	db   *Database
	snap *mvcc.Snapshot
}

func toDocID(id core.DocumentID) persistence.DocID {
	return persistence.DocID{
		Tablet:   uint32(id.Tablet),
		TableNum: uint32(id.Developer.TableNumber),
		Internal: id.Developer.InternalID,
	}
}

func (r *snapshotReader) Timestamp() mvcc.Timestamp { return r.snap.Timestamp }

// GetDocument resolves id's current value: the by_id memory index gives
// the commit timestamp of its last write, and PreviousRevisions (asked for
// the revision immediately preceding ts+1, i.e. exactly at ts) fetches the
// document body from persistence. Memory indexes hold only presence and
// timestamp, never the document payload itself, so every point read that
// misses docCache costs one persistence round trip.
func (r *snapshotReader) GetDocument(id core.DocumentID) (core.Document, bool) {
	idx := r.snap.MemoryIndexes[core.ByIDIndexID(id.Tablet)]
	if idx == nil {
		return core.Document{}, false
	}
	entry, ok := idx.Get(core.EncodeByID(id))
	if !ok {
		return core.Document{}, false
	}
	return r.fetchAt(id, entry.Ts)
}

func (r *snapshotReader) fetchAt(id core.DocumentID, ts mvcc.Timestamp) (core.Document, bool) {
	key := docCacheKey{tablet: id.Tablet, internal: id.Developer.InternalID, ts: ts}
	if doc, ok := r.db.docCache.Get(key); ok {
		return doc, true
	}

	revs, err := r.db.store.PreviousRevisions(context.Background(), []struct {
		ID persistence.DocID
		Ts mvcc.Timestamp
	}{{ID: toDocID(id), Ts: ts.Succ()}})
	if err != nil {
		return core.Document{}, false
	}
	rev, ok := revs[toDocID(id)]
	if !ok || rev.Doc == nil {
		return core.Document{}, false
	}
	value, creationTime, err := core.DecodeDocumentPayload(rev.Doc)
	if err != nil {
		return core.Document{}, false
	}
	doc := core.Document{ID: id, CreationTime: creationTime, Value: value}
	r.db.docCache.Add(key, doc)
	return doc, true
}

// RangeByID batches the same persistence fetch GetDocument does across
// every by_id entry in [lo, hi], one PreviousRevisions call instead of one
// per document.
func (r *snapshotReader) RangeByID(tablet core.TabletID, lo, hi core.DocumentID) []core.Document {
	idx := r.snap.MemoryIndexes[core.ByIDIndexID(tablet)]
	if idx == nil {
		return nil
	}
	entries := idx.Range(core.EncodeByID(lo), core.EncodeByID(hi))
	if len(entries) == 0 {
		return nil
	}

	keys := make([]struct {
		ID persistence.DocID
		Ts mvcc.Timestamp
	}, len(entries))
	for i, e := range entries {
		keys[i].ID = toDocID(e.Doc)
		keys[i].Ts = e.Ts.Succ()
	}
	revs, err := r.db.store.PreviousRevisions(context.Background(), keys)
	if err != nil {
		return nil
	}

	out := make([]core.Document, 0, len(entries))
	for _, e := range entries {
		rev, ok := revs[toDocID(e.Doc)]
		if !ok || rev.Doc == nil {
			continue
		}
		value, creationTime, err := core.DecodeDocumentPayload(rev.Doc)
		if err != nil {
			continue
		}
		out = append(out, core.Document{ID: e.Doc, CreationTime: creationTime, Value: value})
	}
	return out
}

func (r *snapshotReader) TableCount(tablet core.TabletID) (int64, bool) {
	sum := r.snap.Summaries.Get(tablet)
	if !sum.Loaded {
		return 0, false
	}
	return sum.Count, true
}

func (r *snapshotReader) ByIDIndex(tablet core.TabletID) mvcc.IndexID {
	return core.ByIDIndexID(tablet)
}

// TableNumber resolves a tablet's stable TableNumber. The two reserved
// system tablets are never registered in the table registry itself (they
// back the registry), so they resolve to their own tablet id as a fixed
// table number.
func (r *snapshotReader) TableNumber(tablet core.TabletID) (core.TableNumber, bool) {
	if core.IsSystemTablet(tablet) {
		return core.TableNumber(tablet), true
	}
	m, ok := r.snap.Tables.Get(tablet)
	if !ok {
		return 0, false
	}
	return m.TableNumber, true
}

func (r *snapshotReader) Search() mvcc.SearchManagers { return r.snap.Search }

func (r *snapshotReader) NextInternalID(tableNum core.TableNumber) uint64 {
	return r.db.nextInternalID(tableNum)
}
