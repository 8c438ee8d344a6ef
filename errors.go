package syncbase

import "github.com/kartikbazzad/syncbase/core"

// The error taxonomy lives in package core for the same import-direction
// reason as the document model in types.go: committer and transaction
// need to construct these without importing this root package.
type (
	ErrorKind = core.ErrorKind
	Error     = core.Error
)

const (
	ErrUnknown              = core.ErrUnknown
	ErrOCCConflict          = core.ErrOCCConflict
	ErrSchemaEnforcement    = core.ErrSchemaEnforcement
	ErrDocumentExists       = core.ErrDocumentExists
	ErrDocumentDeleted      = core.ErrDocumentDeleted
	ErrBootstrapping        = core.ErrBootstrapping
	ErrSearchUnavailable    = core.ErrSearchUnavailable
	ErrRetention            = core.ErrRetention
	ErrRateLimited          = core.ErrRateLimited
	ErrPersistenceAmbiguous = core.ErrPersistenceAmbiguous
	ErrPersistenceDefinite  = core.ErrPersistenceDefinite
	ErrAuthFailure          = core.ErrAuthFailure
)

var (
	NewOCCConflict             = core.NewOCCConflict
	NewSchemaError             = core.NewSchemaError
	NewDocumentExistsError     = core.NewDocumentExistsError
	NewDocumentDeletedError    = core.NewDocumentDeletedError
	NewBootstrappingError      = core.NewBootstrappingError
	NewSearchUnavailableError  = core.NewSearchUnavailableError
	NewRetentionError          = core.NewRetentionError
	NewRateLimitedError        = core.NewRateLimitedError
	NewPersistenceAmbiguousError = core.NewPersistenceAmbiguousError
	NewPersistenceDefiniteError  = core.NewPersistenceDefiniteError
	NewAuthFailureError          = core.NewAuthFailureError
)
