package committer

import (
	"sort"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
)

// sortWrites orders a commit's staged updates by the table-dependency sort
// key that orders a commit's writes: index deletions, then table-metadata
// deletions (including updates that move a table to Deleting), then
// table-row creations, then other table/index metadata updates, then index
// creations, then every other document write. All TabletTables inserts
// share one tier; no row of TabletTables is singled out ahead of the rest.
// Ties break on document id so application order is fully deterministic.
func sortWrites(writes []core.DocumentUpdate) []core.DocumentUpdate {
	ordered := make([]core.DocumentUpdate, len(writes))
	copy(ordered, writes)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := sortCategory(ordered[i]), sortCategory(ordered[j])
		if ci != cj {
			return ci < cj
		}
		return ordered[i].ID.Less(ordered[j].ID)
	})
	return ordered
}

func sortCategory(u core.DocumentUpdate) int {
	switch u.ID.Tablet {
	case core.TabletIndexes:
		switch {
		case u.IsDelete():
			return 0
		case u.IsInsert():
			return 4
		default:
			return 3
		}
	case core.TabletTables:
		switch {
		case u.IsDelete():
			return 1
		case u.IsInsert():
			return 2
		case tableRowTransitionsToDeleting(u):
			// A table being dropped sorts alongside deletions: anything
			// depending on the table's prior existence must observe its
			// removal no later than this row's own update.
			return 1
		default:
			return 3
		}
	default:
		return 5
	}
}

// tableRowTransitionsToDeleting reports whether a TabletTables update's new
// value sets the row's state to TableDeleting.
func tableRowTransitionsToDeleting(u core.DocumentUpdate) bool {
	if u.New == nil {
		return false
	}
	m, err := decodeTableRow(u.New.Value)
	if err != nil {
		return false
	}
	return m.State == mvcc.TableDeleting
}
