package transaction

import (
	"fmt"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
)

// MemoryLimits bounds how much in-memory index growth a single
// transaction's writes may cause: it validates that
// in-memory text/vector index sizes are under hard limits (only for
// modified tables; deletes also increase memory size and count)".
type MemoryLimits struct {
	MaxEntriesPerTable int64
	MaxBytesPerTable   int64
}

// FinalTransaction is the flattened, committer-ready product of
// Transaction.Finalize: a single coalesced write set plus everything the
// committer needs to validate and apply it.
type FinalTransaction struct {
	BeginTs     mvcc.Timestamp
	ReadSet     *mvcc.ReadSet
	Writes      *core.WriteSet
	TableDeltas map[core.TabletID]int64
	WriteSource core.WriteSource
}

// Finalize flattens the nested write stack (only the outermost frame
// should remain: callers must Commit or Rollback every sub-transaction
// first) and validates the memory-growth hard limits before handing the
// result to the committer. source labels the caller that initiated the
// transaction (mutation, action, import, or internal), carried through to
// committer.FinalTransaction unchanged.
func (t *Transaction) Finalize(limits MemoryLimits, currentEntries func(tablet core.TabletID) (int64, int64), source core.WriteSource) (*FinalTransaction, error) {
	if len(t.stack) != 1 {
		return nil, fmt.Errorf("transaction: %d sub-transaction(s) still open at finalize", len(t.stack)-1)
	}
	if t.status != StatusActive {
		return nil, fmt.Errorf("transaction: cannot finalize from status %d", t.status)
	}

	writes := t.top().writes
	if limits.MaxEntriesPerTable > 0 || limits.MaxBytesPerTable > 0 {
		touched := make(map[core.TabletID]int64)
		for _, u := range writes.Ordered() {
			// Deletes increase memory size and count too (tombstones are
			// themselves index entries) until compaction, so every write
			// kind counts toward the modified-tables check.
			touched[u.ID.Tablet]++
		}
		for tablet, delta := range touched {
			if currentEntries == nil {
				continue
			}
			entries, bytes := currentEntries(tablet)
			projected := entries + delta
			if limits.MaxEntriesPerTable > 0 && projected > limits.MaxEntriesPerTable {
				return nil, core.NewRateLimitedError(fmt.Sprintf("tablet %d would exceed in-memory index entry limit (%d > %d)", tablet, projected, limits.MaxEntriesPerTable))
			}
			if limits.MaxBytesPerTable > 0 && bytes > limits.MaxBytesPerTable {
				return nil, core.NewRateLimitedError(fmt.Sprintf("tablet %d in-memory index exceeds byte limit (%d > %d)", tablet, bytes, limits.MaxBytesPerTable))
			}
		}
	}

	t.status = StatusFinalized
	return &FinalTransaction{
		BeginTs:     t.beginTs,
		ReadSet:     t.readSet,
		Writes:      writes,
		TableDeltas: t.tableDeltas,
		WriteSource: source,
	}, nil
}
