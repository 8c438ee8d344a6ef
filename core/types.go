// Package core holds the document model and error taxonomy shared by
// every layer above mvcc: transaction, committer, search, subscription,
// sync, and the root package itself all depend on core without core
// depending on any of them, keeping the import graph acyclic while the
// root package's Database type still needs to hand transaction and
// committer the same DocumentID/WriteSet/Error types it exposes publicly.
package core

import (
	"encoding/json"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// TabletID identifies a physical table. Tablets are never renamed, and
// this module has no table-rename operation: a table keeps its TabletID
// for its whole life.
type TabletID = mvcc.TabletID

// TableNumber embeds foreign-key stability across table renames: two
// DeveloperIDs with the same TableNumber refer to the same logical table
// even if its TabletID (and therefore its name) has changed.
type TableNumber = mvcc.TableNumber

// DeveloperID is the document identifier exposed to user code. It stays
// stable across a table rename because it carries the TableNumber rather
// than the TabletID. Declared in mvcc, at the bottom of the import graph,
// for the same reason TabletID/TableNumber are.
type DeveloperID = mvcc.DeveloperID

// DocumentID is the fully qualified identifier used for reads, writes, and
// read-set intervals: the physical TabletID plus the stable DeveloperID.
type DocumentID = mvcc.DocumentID

// Document is the (id, creation_time, value) tuple persisted for every
// revision. Value is opaque JSON: the JS/isolate UDF runtime that produces
// it is out of scope for this module; schema enforcement interprets it via
// JSON Schema (see transaction.SchemaEnforcer) without needing to know its
// origin.
type Document struct {
	ID           DocumentID
	CreationTime mvcc.Timestamp
	Value        json.RawMessage
}

// Clone returns a deep copy safe to hand to a caller that may mutate it.
func (d Document) Clone() Document {
	v := make(json.RawMessage, len(d.Value))
	copy(v, d.Value)
	return Document{ID: d.ID, CreationTime: d.CreationTime, Value: v}
}

// WriteSource labels the caller that initiated a commit, propagated into
// OCC-conflict diagnostics and write-log entries so a conflicting reader
// can be told who beat it.
type WriteSource string

const (
	WriteSourceMutation WriteSource = "mutation"
	WriteSourceAction   WriteSource = "action"
	WriteSourceImport   WriteSource = "import"
	WriteSourceInternal WriteSource = "internal"
)
