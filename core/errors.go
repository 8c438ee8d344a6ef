package core

import (
	"fmt"

	"github.com/kartikbazzad/syncbase/mvcc"
)

// ErrorKind is the error taxonomy shared across the module: each kind carries its own
// propagation rule (retry, surface, or fatal) documented on the constant.
type ErrorKind int

const (
	// ErrUnknown is the zero value; never intentionally returned.
	ErrUnknown ErrorKind = iota

	// ErrOCCConflict: returned to the caller; caller may retry. Carries
	// the conflicting read interval and the writer's WriteSource.
	ErrOCCConflict

	// ErrSchemaEnforcement: returned to the caller; no retry.
	ErrSchemaEnforcement

	// ErrDocumentExists / ErrDocumentDeleted: returned to the caller; no
	// retry. Raised on id-reuse during insert or commit's id-collision
	// check.
	ErrDocumentExists
	ErrDocumentDeleted

	// ErrBootstrapping: returned as overloaded; caller should back off.
	// Raised by reads that need table summaries before bootstrap has
	// populated them.
	ErrBootstrapping

	// ErrSearchUnavailable: returned to the caller; the sync worker
	// defers that query and retries after a fixed delay.
	ErrSearchUnavailable

	// ErrRetention: returned to the caller; not retryable.
	ErrRetention

	// ErrRateLimited: overloaded error; caller backs off. Raised by sync
	// worker mutation-queue overflow and memory-index hard-limit checks.
	ErrRateLimited

	// ErrPersistenceAmbiguous: fatal — the process must restart and reload
	// from persistence. The committer reports it with Fatal set and leaves
	// the pending entry in place; it does not stop itself or the process.
	ErrPersistenceAmbiguous

	// ErrPersistenceDefinite: returned to the caller.
	ErrPersistenceDefinite

	// ErrAuthFailure: closes the sync session with a non-retryable flag.
	ErrAuthFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOCCConflict:
		return "occ_conflict"
	case ErrSchemaEnforcement:
		return "schema_enforcement"
	case ErrDocumentExists:
		return "document_exists"
	case ErrDocumentDeleted:
		return "document_deleted"
	case ErrBootstrapping:
		return "bootstrapping"
	case ErrSearchUnavailable:
		return "search_unavailable"
	case ErrRetention:
		return "retention_violation"
	case ErrRateLimited:
		return "rate_limited"
	case ErrPersistenceAmbiguous:
		return "persistence_ambiguous"
	case ErrPersistenceDefinite:
		return "persistence_definite"
	case ErrAuthFailure:
		return "auth_failure"
	default:
		return "unknown"
	}
}

// Error is the single error type raised across the commit pipeline,
// transactions, search, and sync. It generalizes a flat
// sentinel-error style (internal/util/errors.go) into a typed, wrapped
// error so callers can carry structured detail (conflicting interval,
// writer source) instead of parsing a message string.
type Error struct {
	Kind    ErrorKind
	Message string
	// Retryable mirrors the propagation rule for Kind but is exposed
	// directly so callers need not switch on Kind to decide whether to
	// back off and retry.
	Retryable bool
	// Fatal indicates the process must be restarted and reload its state
	// from persistence; the committer itself does not trigger shutdown.
	Fatal bool

	// Detail fields populated for ErrOCCConflict.
	ConflictInterval string
	ConflictWriter   WriteSource

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: isRetryable(kind), Fatal: kind == ErrPersistenceAmbiguous}
}

func isRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrOCCConflict, ErrBootstrapping, ErrSearchUnavailable, ErrRateLimited:
		return true
	default:
		return false
	}
}

// NewOCCConflict builds the error the committer returns when a read set
// overlaps a write log entry or pending write in (begin_ts, commit_ts].
func NewOCCConflict(interval string, writer WriteSource) *Error {
	e := newError(ErrOCCConflict, fmt.Sprintf("conflicting read on %s", interval))
	e.ConflictInterval = interval
	e.ConflictWriter = writer
	return e
}

// NewSchemaError wraps a schema-enforcement failure.
func NewSchemaError(cause error) *Error {
	e := newError(ErrSchemaEnforcement, "document failed schema validation")
	e.cause = cause
	return e
}

// NewDocumentExistsError reports id-reuse against a live document.
func NewDocumentExistsError(id DocumentID) *Error {
	return newError(ErrDocumentExists, fmt.Sprintf("document %s already exists", id))
}

// NewDocumentDeletedError reports id-reuse against a tombstoned document.
func NewDocumentDeletedError(id DocumentID) *Error {
	return newError(ErrDocumentDeleted, fmt.Sprintf("document id %s was deleted and cannot be reused", id))
}

// NewBootstrappingError reports a read that needs table summaries the
// committer has not finished loading yet.
func NewBootstrappingError() *Error {
	return newError(ErrBootstrapping, "table summaries are still loading")
}

// NewSearchUnavailableError reports a query over an index that has not
// finished search/vector bootstrap.
func NewSearchUnavailableError(indexDescriptor string) *Error {
	return newError(ErrSearchUnavailable, fmt.Sprintf("search index %s is not yet enabled", indexDescriptor))
}

// NewRetentionError reports a read below the retention horizon.
func NewRetentionError(ts mvcc.Timestamp) *Error {
	return newError(ErrRetention, fmt.Sprintf("timestamp %s is below the retention horizon", ts))
}

// NewRateLimitedError reports mutation-queue overflow or a memory-index
// hard-limit breach.
func NewRateLimitedError(reason string) *Error {
	return newError(ErrRateLimited, reason)
}

// NewPersistenceAmbiguousError wraps an I/O error whose durability outcome
// is unknown; the committer must treat this as fatal.
func NewPersistenceAmbiguousError(cause error) *Error {
	e := newError(ErrPersistenceAmbiguous, "persistence write outcome is ambiguous")
	e.cause = cause
	return e
}

// NewPersistenceDefiniteError wraps an I/O error known to have failed
// cleanly (no partial durability).
func NewPersistenceDefiniteError(cause error) *Error {
	e := newError(ErrPersistenceDefinite, "persistence operation failed")
	e.cause = cause
	return e
}

// NewAuthFailureError reports a sync-session authentication failure.
func NewAuthFailureError(cause error) *Error {
	e := newError(ErrAuthFailure, "authentication failed")
	e.cause = cause
	return e
}
