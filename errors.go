package bunstore

import "github.com/kartikbazzad/bunbase/bunstore/internal/util"

// Errors returned by bunstore. Match them with errors.Is; the typed
// variants (UniqueViolationError, ProjectionConflictError, MatcherError,
// InvariantError) are available through errors.As.
var (
	ErrUniqueViolated      = util.ErrUniqueViolated
	ErrInvariantViolation  = util.ErrInvariantViolation
	ErrIndexNotFound       = util.ErrIndexNotFound
	ErrIndexFieldRequired  = util.ErrIndexFieldRequired
	ErrCannotRemoveIDIndex = util.ErrCannotRemoveIDIndex
	ErrInvalidQuery        = util.ErrInvalidQuery
	ErrProjectionConflict  = util.ErrProjectionConflict
	ErrInvalidModification = util.ErrInvalidModification
	ErrCannotModifyID      = util.ErrCannotModifyID
	ErrMatcherFailed       = util.ErrMatcherFailed
	ErrCollectionNotFound  = util.ErrCollectionNotFound
	ErrCollectionExists    = util.ErrCollectionExists
	ErrDocumentNotFound    = util.ErrDocumentNotFound
	ErrSchemaViolation     = util.ErrSchemaViolation
	ErrInvalidFieldName    = util.ErrInvalidFieldName
	ErrInvalidCollation    = util.ErrInvalidCollation
	ErrUnsupportedValue    = util.ErrUnsupportedValue
	ErrDatabaseClosed      = util.ErrDatabaseClosed
)

type (
	UniqueViolationError    = util.UniqueViolationError
	ProjectionConflictError = util.ProjectionConflictError
	MatcherError            = util.MatcherError
	InvariantError          = util.InvariantError
)
