package search

import (
	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
)

// ApplyCommit computes the text/vector in-memory delta update a commit's
// ordered writes produce, mirroring committer.applyWrites's "compute,
// then fold" split: this is the compute half, kept in package search so
// committer can call it without search depending on committer (search
// already sits below committer in the import graph, next to mvcc).
//
// current is the snapshot's existing *Managers (nil before any text/
// vector index has bootstrapped, in which case ApplyCommit is a no-op:
// there is nothing to accumulate into until Bootstrap has produced a
// disk segment and a MemoryMinTs floor). Per step 4, a
// revision before an index's MemoryMinTs is already covered by its disk
// segment and is skipped here to avoid double-counting; a revision at
// MemoryMinTs belongs to the memory delta.
func ApplyCommit(current *Managers, indexes *mvcc.IndexRegistry, ordered []core.DocumentUpdate, commitTs mvcc.Timestamp) (*Managers, bool) {
	if current == nil {
		return nil, false
	}

	next := current
	changed := false

	for _, u := range ordered {
		for _, idx := range indexes.ForTablet(u.ID.Tablet) {
			switch idx.Config {
			case mvcc.IndexText:
				tm, ok := next.text[idx.ID]
				if !ok || commitTs < tm.memoryMinTs || len(idx.Fields) == 0 {
					continue
				}
				rev := &SegmentRevision{InternalID: u.ID.Developer.InternalID, Ts: commitTs}
				if u.New != nil {
					rev.Terms = core.ExtractTextTerms(u.New.Value, idx.Fields[0])
					rev.CreatedAt = u.New.CreationTime
				}
				next = next.WithText(idx.ID, tm.WithRevision(rev))
				changed = true

			case mvcc.IndexVector:
				vm, ok := next.vector[idx.ID]
				if !ok || commitTs < vm.memoryMinTs || len(idx.Fields) == 0 {
					continue
				}
				rev := &SegmentRevision{InternalID: u.ID.Developer.InternalID, Ts: commitTs}
				if u.New != nil {
					if vec, ok := core.ExtractVector(u.New.Value, idx.Fields[0]); ok {
						rev.Vector = vec
						rev.CreatedAt = u.New.CreationTime
					}
				}
				next = next.WithVector(idx.ID, vm.WithRevision(rev))
				changed = true
			}
		}
	}

	if !changed {
		return current, false
	}
	return next, true
}
