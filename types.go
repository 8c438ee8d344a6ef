package syncbase

import "github.com/kartikbazzad/syncbase/core"

// The document model lives in package core so that transaction,
// committer, search, subscription, and sync can depend on it without
// importing this root package (which in turn depends on all of them to
// assemble Database). These aliases keep it part of this package's
// public API.
type (
	TabletID       = core.TabletID
	TableNumber    = core.TableNumber
	DeveloperID    = core.DeveloperID
	DocumentID     = core.DocumentID
	Document       = core.Document
	WriteSource    = core.WriteSource
	DocumentUpdate = core.DocumentUpdate
	WriteSet       = core.WriteSet
)

const (
	WriteSourceMutation = core.WriteSourceMutation
	WriteSourceAction   = core.WriteSourceAction
	WriteSourceImport   = core.WriteSourceImport
	WriteSourceInternal = core.WriteSourceInternal
)

// NewWriteSet returns an empty write set.
func NewWriteSet() *WriteSet { return core.NewWriteSet() }
