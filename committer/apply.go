package committer

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/search"
)

// appliedUpdates is what applyWrites computes from one commit's ordered
// writes against the latest snapshot: the wire-level records persistence
// needs to durably record, the intervals those writes touch (fed into the
// write log for future staleness checks and into the invalidator), and
// the memory-index/registry/summary deltas apply folds into the next
// published *mvcc.Snapshot. Splitting "compute" (applyWrites, fallible)
// from "fold into a snapshot" (apply, infallible) mirrors the split
// step 5's Snapshot.update being a pure function of (update, commit_ts).
type appliedUpdates struct {
	docs        []docEffect
	indexOps    []indexOp
	intervals   []mvcc.Interval
	writeSource string

	memoryAdds    map[mvcc.IndexID][]mvcc.IndexEntry
	memoryRemoves map[mvcc.IndexID][]mvcc.DocumentID

	newTables     *mvcc.TableRegistry
	newIndexes    *mvcc.IndexRegistry
	tableDeltas   map[core.TabletID]int64
	searchManagers *search.Managers
	searchChanged  bool
}

type docEffect struct {
	id      core.DocumentID
	deleted bool
	payload []byte
}

type indexOp struct {
	id      mvcc.IndexID
	deleted bool
	payload []byte
}

type indexWire struct {
	IndexID uint32          `json:"index_id"`
	Key     []byte          `json:"key"`
	DocID   persistence.DocID `json:"doc_id"`
	Deleted bool            `json:"deleted"`
}

func toDocID(id core.DocumentID) persistence.DocID {
	return persistence.DocID{
		Tablet:   uint32(id.Tablet),
		TableNum: uint32(id.Developer.TableNumber),
		Internal: id.Developer.InternalID,
	}
}

// documentWrites renders the computed document effects as the
// persistence.Store.Write payload for commit timestamp ts.
func (a *appliedUpdates) documentWrites(ts mvcc.Timestamp) []persistence.DocumentWrite {
	out := make([]persistence.DocumentWrite, 0, len(a.docs))
	for _, d := range a.docs {
		out = append(out, persistence.DocumentWrite{Ts: ts, ID: toDocID(d.id), Doc: d.payload})
	}
	return out
}

// indexWrites renders the computed index mutations for commit timestamp ts.
func (a *appliedUpdates) indexWrites(ts mvcc.Timestamp) []persistence.IndexWrite {
	out := make([]persistence.IndexWrite, 0, len(a.indexOps))
	for _, op := range a.indexOps {
		out = append(out, persistence.IndexWrite{Ts: ts, Update: op.payload})
	}
	return out
}

// apply folds the computed updates into the next published snapshot.
func (a *appliedUpdates) apply(latest *mvcc.Snapshot) *mvcc.Snapshot {
	next := latest

	touched := make(map[mvcc.IndexID]bool, len(a.memoryAdds)+len(a.memoryRemoves))
	for id := range a.memoryAdds {
		touched[id] = true
	}
	for id := range a.memoryRemoves {
		touched[id] = true
	}
	for id := range touched {
		idx := next.MemoryIndexes[id]
		if idx == nil {
			idx = mvcc.NewMemoryIndex()
		}
		idx = idx.Upsert(a.memoryRemoves[id], a.memoryAdds[id])
		next = next.WithMemoryIndex(id, idx)
	}

	if a.newTables != nil {
		next = next.WithTables(a.newTables)
	}
	if a.newIndexes != nil {
		next = next.WithIndexes(a.newIndexes)
	}
	if len(a.tableDeltas) > 0 {
		sum := next.Summaries
		for tablet, delta := range a.tableDeltas {
			sum = sum.WithDelta(tablet, delta, 0)
		}
		next = next.WithSummaries(sum)
	}
	if a.searchChanged {
		next = next.WithSearch(a.searchManagers)
	}
	return next
}

// applyWrites computes the effect of a commit's table-dependency-sorted
// writes against the latest snapshot: it maintains the always-on by_id
// and by_creation_time bootstrap indexes, maintains Database-kind
// secondary indexes for fields they cover, and decodes writes to the
// reserved table/index registry tablets into TableRegistry/IndexRegistry
// mutations. It never mutates latest; every result is returned for the
// caller to fold via (*appliedUpdates).apply once persistence durably
// records it.
func applyWrites(latest *mvcc.Snapshot, commitTs mvcc.Timestamp, ordered []core.DocumentUpdate, tableDeltas map[core.TabletID]int64, writeSource string) (*appliedUpdates, error) {
	a := &appliedUpdates{
		writeSource:   writeSource,
		memoryAdds:    make(map[mvcc.IndexID][]mvcc.IndexEntry),
		memoryRemoves: make(map[mvcc.IndexID][]mvcc.DocumentID),
		tableDeltas:   tableDeltas,
	}

	tables := latest.Tables
	indexes := latest.Indexes
	tablesChanged, indexesChanged := false, false

	for _, u := range ordered {
		byID := core.ByIDIndexID(u.ID.Tablet)
		byCT := core.ByCreationTimeIndexID(u.ID.Tablet)

		if u.Old != nil {
			a.memoryRemoves[byID] = append(a.memoryRemoves[byID], u.ID)
			a.memoryRemoves[byCT] = append(a.memoryRemoves[byCT], u.ID)
		}
		if u.New != nil {
			a.memoryAdds[byID] = append(a.memoryAdds[byID], mvcc.IndexEntry{Key: core.EncodeByID(u.ID), Doc: u.ID, Ts: commitTs})
			a.memoryAdds[byCT] = append(a.memoryAdds[byCT], mvcc.IndexEntry{Key: core.EncodeByCreationTime(u.New.CreationTime, u.ID), Doc: u.ID, Ts: commitTs})
		}
		a.intervals = append(a.intervals,
			mvcc.Interval{Tablet: u.ID.Tablet, Index: byID, Lo: core.EncodeByID(u.ID), Hi: core.EncodeByID(u.ID)})

		for _, idx := range indexes.ForTablet(u.ID.Tablet) {
			if idx.Config != mvcc.IndexDatabase || len(idx.Fields) == 0 {
				continue
			}
			field := idx.Fields[0]
			if u.Old != nil {
				if key, ok := core.EncodeFieldIndexKey(u.Old.Value, field, u.ID); ok {
					a.memoryRemoves[idx.ID] = append(a.memoryRemoves[idx.ID], u.ID)
					a.intervals = append(a.intervals, mvcc.Interval{Tablet: u.ID.Tablet, Index: idx.ID, Fields: []string{field}, Lo: key, Hi: key})
				}
			}
			if u.New != nil {
				if key, ok := core.EncodeFieldIndexKey(u.New.Value, field, u.ID); ok {
					a.memoryAdds[idx.ID] = append(a.memoryAdds[idx.ID], mvcc.IndexEntry{Key: key, Doc: u.ID, Ts: commitTs})
					a.intervals = append(a.intervals, mvcc.Interval{Tablet: u.ID.Tablet, Index: idx.ID, Fields: []string{field}, Lo: key, Hi: key})
				}
			}
		}

		if u.New == nil {
			a.docs = append(a.docs, docEffect{id: u.ID, deleted: true})
		} else {
			payload, err := core.EncodeDocumentPayload(u.New.Value, u.New.CreationTime)
			if err != nil {
				return nil, fmt.Errorf("committer: encode document %s: %w", u.ID, err)
			}
			a.docs = append(a.docs, docEffect{id: u.ID, payload: payload})
		}

		switch u.ID.Tablet {
		case core.TabletTables:
			if u.New == nil {
				if u.Old != nil {
					row, err := decodeTableRow(u.Old.Value)
					if err != nil {
						return nil, err
					}
					tables = tables.WithDelete(row.Tablet)
					tablesChanged = true
				}
				continue
			}
			row, err := decodeTableRow(u.New.Value)
			if err != nil {
				return nil, err
			}
			updated, err := tables.WithUpsert(row)
			if err != nil {
				return nil, fmt.Errorf("committer: table registry: %w", err)
			}
			tables = updated
			tablesChanged = true

		case core.TabletIndexes:
			if u.New == nil {
				if u.Old != nil {
					row, err := decodeIndexRow(u.Old.Value)
					if err != nil {
						return nil, err
					}
					indexes = indexes.WithDelete(row.ID)
					indexesChanged = true
				}
				continue
			}
			row, err := decodeIndexRow(u.New.Value)
			if err != nil {
				return nil, err
			}
			indexes = indexes.WithUpsert(row)
			indexesChanged = true
		}
	}

	if tablesChanged {
		a.newTables = tables
	}
	if indexesChanged {
		a.newIndexes = indexes
	}

	// Text/vector index in-memory delta maintenance runs
	// against the possibly-updated index registry: a commit that both
	// creates a text index row and writes a document covered by it sees
	// the new registry entry in the same commit.
	if sm, ok := latest.Search.(*search.Managers); ok {
		updated, changed := search.ApplyCommit(sm, indexes, ordered, commitTs)
		if changed {
			a.searchManagers = updated
			a.searchChanged = true
		}
	}

	for id, adds := range a.memoryAdds {
		for _, e := range adds {
			wire, err := json.Marshal(indexWire{IndexID: uint32(id), Key: e.Key, DocID: toDocID(e.Doc)})
			if err != nil {
				return nil, fmt.Errorf("committer: encode index write: %w", err)
			}
			a.indexOps = append(a.indexOps, indexOp{id: id, payload: wire})
		}
	}
	for id, removedDocs := range a.memoryRemoves {
		for _, docID := range removedDocs {
			wire, err := json.Marshal(indexWire{IndexID: uint32(id), DocID: toDocID(docID), Deleted: true})
			if err != nil {
				return nil, fmt.Errorf("committer: encode index delete: %w", err)
			}
			a.indexOps = append(a.indexOps, indexOp{id: id, deleted: true, payload: wire})
		}
	}

	return a, nil
}

type tableRow struct {
	Tablet      uint32 `json:"tablet"`
	Namespace   string `json:"namespace"`
	TableName   string `json:"table_name"`
	TableNumber uint32 `json:"table_number"`
	State       string `json:"state"`
}

type indexRow struct {
	ID        uint32   `json:"id"`
	Tablet    uint32   `json:"tablet"`
	Namespace string   `json:"namespace"`
	Table     string   `json:"table"`
	Name      string   `json:"name"`
	Fields    []string `json:"fields"`
	Config    string   `json:"config"`
	State     string   `json:"state"`
}

// EncodeTableRow renders a table-registry row the way the root package's
// CreateTable stages it into TabletTables, the inverse of decodeTableRow.
func EncodeTableRow(m mvcc.TableMetadata) (json.RawMessage, error) {
	state := "active"
	switch m.State {
	case mvcc.TableHidden:
		state = "hidden"
	case mvcc.TableDeleting:
		state = "deleting"
	}
	b, err := json.Marshal(tableRow{
		Tablet: uint32(m.Tablet), Namespace: m.Namespace, TableName: m.TableName,
		TableNumber: uint32(m.TableNumber), State: state,
	})
	if err != nil {
		return nil, fmt.Errorf("committer: encode table row: %w", err)
	}
	return b, nil
}

// EncodeIndexRow renders an index-registry row the way the root package's
// CreateIndex stages it into TabletIndexes, the inverse of decodeIndexRow.
func EncodeIndexRow(idx mvcc.Index) (json.RawMessage, error) {
	config := "database"
	switch idx.Config {
	case mvcc.IndexText:
		config = "text"
	case mvcc.IndexVector:
		config = "vector"
	}
	state := "backfilling"
	switch idx.State {
	case mvcc.IndexBackfilled:
		state = "backfilled"
	case mvcc.IndexEnabled:
		state = "enabled"
	}
	b, err := json.Marshal(indexRow{
		ID: uint32(idx.ID), Tablet: uint32(idx.Tablet),
		Namespace: idx.Descriptor.Namespace, Table: idx.Descriptor.Table, Name: idx.Descriptor.Name,
		Fields: idx.Fields, Config: config, State: state,
	})
	if err != nil {
		return nil, fmt.Errorf("committer: encode index row: %w", err)
	}
	return b, nil
}

// DecodeTableRowForBootstrap exposes decodeTableRow for the root package's
// startup registry replay, which needs to reconstruct a *mvcc.TableRegistry
// from TabletTables documents before the committer itself has run.
func DecodeTableRowForBootstrap(value json.RawMessage) (mvcc.TableMetadata, error) {
	return decodeTableRow(value)
}

// DecodeIndexRowForBootstrap exposes decodeIndexRow for the same reason.
func DecodeIndexRowForBootstrap(value json.RawMessage) (mvcc.Index, error) {
	return decodeIndexRow(value)
}

func decodeTableRow(value json.RawMessage) (mvcc.TableMetadata, error) {
	var r tableRow
	if err := json.Unmarshal(value, &r); err != nil {
		return mvcc.TableMetadata{}, fmt.Errorf("committer: decode table row: %w", err)
	}
	return mvcc.TableMetadata{
		Tablet:      mvcc.TabletID(r.Tablet),
		Namespace:   r.Namespace,
		TableName:   r.TableName,
		TableNumber: mvcc.TableNumber(r.TableNumber),
		State:       decodeTableState(r.State),
	}, nil
}

func decodeTableState(s string) mvcc.TableState {
	switch s {
	case "hidden":
		return mvcc.TableHidden
	case "deleting":
		return mvcc.TableDeleting
	default:
		return mvcc.TableActive
	}
}

func decodeIndexRow(value json.RawMessage) (mvcc.Index, error) {
	var r indexRow
	if err := json.Unmarshal(value, &r); err != nil {
		return mvcc.Index{}, fmt.Errorf("committer: decode index row: %w", err)
	}
	return mvcc.Index{
		ID:         mvcc.IndexID(r.ID),
		Tablet:     mvcc.TabletID(r.Tablet),
		Descriptor: mvcc.IndexDescriptor{Namespace: r.Namespace, Table: r.Table, Name: r.Name},
		Fields:     r.Fields,
		Config:     decodeIndexConfig(r.Config),
		State:      decodeIndexState(r.State),
	}, nil
}

func decodeIndexConfig(s string) mvcc.IndexConfigKind {
	switch s {
	case "text":
		return mvcc.IndexText
	case "vector":
		return mvcc.IndexVector
	default:
		return mvcc.IndexDatabase
	}
}

func decodeIndexState(s string) mvcc.IndexState {
	switch s {
	case "backfilled":
		return mvcc.IndexBackfilled
	case "enabled":
		return mvcc.IndexEnabled
	default:
		return mvcc.IndexBackfilling
	}
}
