package committer

import (
	"context"
	"fmt"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
	"github.com/kartikbazzad/syncbase/persistence"
)

// LoadIndexesIntoMemory implements the load_indexes_into_memory:
// it materializes the by_id, by_creation_time, and enabled Database-kind
// indexes for the given tablets from persistence, then atomically swaps
// them into the latest snapshot. It never blocks concurrent commits:
// OverwriteLastMemoryIndexes rejects the swap if a commit published a
// newer snapshot while materialization was reading from persistence, and
// this loop simply retries against the new one.
func (c *Committer) LoadIndexesIntoMemory(ctx context.Context, store persistence.Store, tablets []core.TabletID) error {
	for {
		expectTs, latest := c.snapshots.Latest()
		materialized, err := materializeIndexes(ctx, store, latest, expectTs, tablets)
		if err != nil {
			return err
		}
		if err := c.snapshots.OverwriteLastMemoryIndexes(expectTs, materialized); err == nil {
			return nil
		}
	}
}

func materializeIndexes(ctx context.Context, store persistence.Store, latest *mvcc.Snapshot, upTo mvcc.Timestamp, tablets []core.TabletID) (map[mvcc.IndexID]*mvcc.MemoryIndex, error) {
	nums := make([]uint32, len(tablets))
	for i, t := range tablets {
		nums[i] = uint32(t)
	}

	out := make(map[mvcc.IndexID]*mvcc.MemoryIndex)
	stream, err := store.LoadDocuments(ctx, 0, upTo, persistence.Ascending, nums)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for stream.Next() {
		w := stream.Value()
		id := core.DocumentID{
			Tablet:    core.TabletID(w.ID.Tablet),
			Developer: core.DeveloperID{TableNumber: core.TableNumber(w.ID.TableNum), InternalID: w.ID.Internal},
		}
		if w.Doc == nil {
			// tombstone: drop the entries earlier revisions of this document added
			for idxID, idx := range out {
				out[idxID] = idx.Upsert([]mvcc.DocumentID{id}, nil)
			}
			continue
		}
		value, creationTime, err := core.DecodeDocumentPayload(w.Doc)
		if err != nil {
			return nil, fmt.Errorf("committer: decode document %s: %w", id, err)
		}

		byID := core.ByIDIndexID(id.Tablet)
		byCT := core.ByCreationTimeIndexID(id.Tablet)
		out[byID] = upsertOne(out[byID], mvcc.IndexEntry{Key: core.EncodeByID(id), Doc: id, Ts: w.Ts})
		out[byCT] = upsertOne(out[byCT], mvcc.IndexEntry{Key: core.EncodeByCreationTime(creationTime, id), Doc: id, Ts: w.Ts})

		for _, idx := range latest.Indexes.ForTablet(id.Tablet) {
			if idx.Config != mvcc.IndexDatabase || len(idx.Fields) == 0 {
				continue
			}
			if key, ok := core.EncodeFieldIndexKey(value, idx.Fields[0], id); ok {
				out[idx.ID] = upsertOne(out[idx.ID], mvcc.IndexEntry{Key: key, Doc: id, Ts: w.Ts})
			}
		}
	}
	return out, stream.Err()
}

func upsertOne(idx *mvcc.MemoryIndex, e mvcc.IndexEntry) *mvcc.MemoryIndex {
	if idx == nil {
		idx = mvcc.NewMemoryIndex()
	}
	return idx.Upsert([]mvcc.DocumentID{e.Doc}, []mvcc.IndexEntry{e})
}

// FinishSearchAndVectorBootstrap implements the finalization
// step: build is handed the latest snapshot to replay against and must
// return the freshly bootstrapped text/vector managers; the result is
// swapped in atomically, retried against a newer snapshot if a commit
// races ahead of materialization, exactly like LoadIndexesIntoMemory.
// Declared to take a closure rather than a concrete *search.Bootstrapper
// so the one-shot bootstrap entrypoint stays decoupled from this
// package's commit-time maintenance, which does call into package search
// directly (see apply.go's use of search.ApplyCommit) now that search no
// longer depends on committer for anything.
func (c *Committer) FinishSearchAndVectorBootstrap(build func(latest *mvcc.Snapshot) (mvcc.SearchManagers, error)) error {
	for {
		expectTs, latest := c.snapshots.Latest()
		sm, err := build(latest)
		if err != nil {
			return err
		}
		if err := c.snapshots.OverwriteLastSearch(expectTs, sm); err == nil {
			return nil
		}
	}
}
