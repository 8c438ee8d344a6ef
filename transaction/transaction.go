// Package transaction implements the per-request read/write context: a
// read set, a nested write stack for sub-transactions, and
// the overlays needed to finalize into a committer.FinalTransaction. It is
// grounded on the shape bundoc/internal/transaction's manager_test.go
// implies (Transaction{ID, Status, WriteSet}, Begin/Write/Commit), adapted
// from a single flat write set into the nested sub-transaction stack and
// overlay model this module actually calls for.
package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/syncbase/core"
	"github.com/kartikbazzad/syncbase/mvcc"
)

// Status mirrors bundoc/internal/transaction's StatusActive/StatusCommitted
// naming, extended with the intermediate states this package's richer
// lifecycle needs.
type Status int

const (
	StatusActive Status = iota
	StatusFinalized
	StatusCommitted
	StatusRolledBack
)

// SnapshotReader is the read-only view a Transaction evaluates gets and
// searches against: the merged base snapshot plus every overlay staged by
// enclosing frames. Implemented by the root package's snapshot-backed
// reader; kept as an interface here so this package never imports the
// root package.
type SnapshotReader interface {
	Timestamp() mvcc.Timestamp
	GetDocument(id core.DocumentID) (core.Document, bool)
	RangeByID(tablet core.TabletID, lo, hi core.DocumentID) []core.Document
	TableCount(tablet core.TabletID) (int64, bool)
	// ByIDIndex resolves the tablet's always-Enabled by_id bootstrap
	// index, used to tag read-set intervals recorded by Get.
	ByIDIndex(tablet core.TabletID) mvcc.IndexID
	// TableNumber resolves a tablet's stable TableNumber, used by Search
	// to reconstruct a full DocumentID from a searcher result's bare
	// internal id.
	TableNumber(tablet core.TabletID) (core.TableNumber, bool)
	// Search exposes the snapshot's text/vector index managers for
	// Transaction.Search/VectorSearch.
	Search() mvcc.SearchManagers
	// NextInternalID hands out the next globally unique InternalID for
	// tableNum. Allocation lives behind the reader (rather than a
	// transaction-local counter) so two concurrent transactions inserting
	// into the same table can never be handed the same id.
	NextInternalID(tableNum core.TableNumber) uint64
}

// frame is one level of the nested write stack: a sub-transaction's own
// staged writes, committed into the parent by Commit or discarded by
// Rollback.
type frame struct {
	writes *core.WriteSet
}

// Transaction owns a read set, a nested write stack, and the overlays
// needed to evaluate get/patch/insert/delete consistently with its own
// uncommitted writes before those writes reach the committer.
type Transaction struct {
	beginTs mvcc.Timestamp
	reader  SnapshotReader
	enforcer SchemaEnforcer
	compiler *QueryCompiler

	readSet *mvcc.ReadSet
	stack   []*frame

	status Status

	tableDeltas map[core.TabletID]int64
}

// New begins a transaction bound to a repeatable snapshot.
func New(beginTs mvcc.Timestamp, reader SnapshotReader, enforcer SchemaEnforcer, compiler *QueryCompiler) *Transaction {
	t := &Transaction{
		beginTs:  beginTs,
		reader:   reader,
		enforcer: enforcer,
		compiler: compiler,
		readSet:  &mvcc.ReadSet{},
		tableDeltas: make(map[core.TabletID]int64),
	}
	t.stack = []*frame{{writes: core.NewWriteSet()}}
	return t
}

func (t *Transaction) top() *frame { return t.stack[len(t.stack)-1] }

// BeginSubTransaction pushes a new nested write frame.
func (t *Transaction) BeginSubTransaction() {
	t.stack = append(t.stack, &frame{writes: core.NewWriteSet()})
}

// CommitSubTransaction merges the top frame's writes into its parent.
func (t *Transaction) CommitSubTransaction() error {
	if len(t.stack) < 2 {
		return fmt.Errorf("transaction: no sub-transaction to commit")
	}
	top := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	t.top().writes.Merge(top.writes)
	return nil
}

// RollbackSubTransaction discards the top frame's writes entirely.
func (t *Transaction) RollbackSubTransaction() error {
	if len(t.stack) < 2 {
		return fmt.Errorf("transaction: no sub-transaction to roll back")
	}
	t.stack = t.stack[:len(t.stack)-1]
	return nil
}

// mergedGet resolves a document id through every stacked frame (innermost
// first) before falling back to the base snapshot reader.
func (t *Transaction) mergedGet(id core.DocumentID) (*core.Document, mvcc.Timestamp, bool) {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if u, ok := t.stack[i].writes.Get(id); ok {
			if u.New == nil {
				return nil, 0, false
			}
			return u.New, t.beginTs, true
		}
	}
	if d, ok := t.reader.GetDocument(id); ok {
		return &d, d.CreationTime, true
	}
	return nil, 0, false
}

// Get reads the document at id via the by_id interval [id, id], recording
// the read on the transaction's read set.
func (t *Transaction) Get(id core.DocumentID) (*core.Document, error) {
	t.readSet.RecordRange(mvcc.Interval{
		Tablet: id.Tablet,
		Index:  t.reader.ByIDIndex(id.Tablet),
		Lo:     core.EncodeByID(id),
		Hi:     core.EncodeByID(id),
	})
	d, _, ok := t.mergedGet(id)
	if !ok {
		return nil, nil
	}
	return d, nil
}

// Replace overwrites id's current value wholesale, enforcing schema
// before staging.
func (t *Transaction) Replace(id core.DocumentID, tableName string, value json.RawMessage) error {
	old, oldTs, ok := t.mergedGet(id)
	if !ok {
		return core.NewDocumentDeletedError(id)
	}
	if err := t.enforce(tableName, value); err != nil {
		return err
	}
	t.top().writes.Stage(core.DocumentUpdate{
		ID: id, Old: old, OldTs: oldTs,
		New: &core.Document{ID: id, CreationTime: old.CreationTime, Value: value},
	})
	return nil
}

// Patch merges patchValue (a JSON Merge Patch, RFC 7396) over id's current
// value, enforcing schema on the merged result before staging.
func (t *Transaction) Patch(id core.DocumentID, tableName string, patchValue json.RawMessage) error {
	old, oldTs, ok := t.mergedGet(id)
	if !ok {
		return core.NewDocumentDeletedError(id)
	}
	merged, err := mergePatch(old.Value, patchValue)
	if err != nil {
		return fmt.Errorf("transaction: merge patch: %w", err)
	}
	if err := t.enforce(tableName, merged); err != nil {
		return err
	}
	t.top().writes.Stage(core.DocumentUpdate{
		ID: id, Old: old, OldTs: oldTs,
		New: &core.Document{ID: id, CreationTime: old.CreationTime, Value: merged},
	})
	return nil
}

// Delete tombstones id.
func (t *Transaction) Delete(id core.DocumentID, tableNum core.TableNumber) error {
	old, oldTs, ok := t.mergedGet(id)
	if !ok {
		return core.NewDocumentDeletedError(id)
	}
	t.top().writes.Stage(core.DocumentUpdate{ID: id, Old: old, OldTs: oldTs, New: nil})
	t.tableDeltas[id.Tablet]--
	return nil
}

// Insert auto-assigns a DeveloperID and stages a new document, erroring if
// the id somehow already existed at begin_ts (collision in the internal-id
// allocator, or id reuse against a just-deleted document).
func (t *Transaction) Insert(tablet core.TabletID, tableNum core.TableNumber, tableName string, creationTime mvcc.Timestamp, value json.RawMessage) (core.DocumentID, error) {
	if err := t.enforce(tableName, value); err != nil {
		return core.DocumentID{}, err
	}
	internal := t.reader.NextInternalID(tableNum)
	id := core.DocumentID{Tablet: tablet, Developer: core.DeveloperID{TableNumber: tableNum, InternalID: internal}}

	if existing, _, ok := t.mergedGet(id); ok {
		if existing != nil {
			return core.DocumentID{}, core.NewDocumentExistsError(id)
		}
	}
	t.top().writes.Stage(core.DocumentUpdate{
		ID: id, Old: nil,
		New: &core.Document{ID: id, CreationTime: creationTime, Value: value},
	})
	t.tableDeltas[tablet]++
	return id, nil
}

// Count returns the table's summary count, adjusted for this
// transaction's own staged inserts/deletes against that tablet.
func (t *Transaction) Count(tablet core.TabletID) (int64, error) {
	base, ok := t.reader.TableCount(tablet)
	if !ok {
		return 0, core.NewBootstrappingError()
	}
	return base + t.tableDeltas[tablet], nil
}

// PreloadIndexRange records a read over an arbitrary index interval
// without fetching documents, used to warm the read set ahead of a batch
// of gets the caller knows it will issue.
func (t *Transaction) PreloadIndexRange(iv mvcc.Interval) {
	t.readSet.RecordRange(iv)
}

func (t *Transaction) enforce(tableName string, value json.RawMessage) error {
	if t.enforcer == nil {
		return nil
	}
	if err := t.enforcer.Validate(tableName, value); err != nil {
		return core.NewSchemaError(err)
	}
	return nil
}

// ReadSet returns the transaction's accumulated read set.
func (t *Transaction) ReadSet() *mvcc.ReadSet { return t.readSet }

// TableDeltas returns the net per-tablet count delta this transaction's
// writes would apply, for the committer's table_summaries maintenance.
func (t *Transaction) TableDeltas() map[core.TabletID]int64 { return t.tableDeltas }
