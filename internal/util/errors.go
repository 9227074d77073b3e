package util

import (
	"errors"
	"fmt"
)

// Common errors used throughout bunstore
var (
	// Index errors
	ErrUniqueViolated      = errors.New("unique constraint violated")
	ErrInvariantViolation  = errors.New("structural invariant violated")
	ErrIndexNotFound       = errors.New("index not found")
	ErrIndexFieldRequired  = errors.New("index field name is required")
	ErrCannotRemoveIDIndex = errors.New("the _id index cannot be removed")

	// Query errors
	ErrInvalidQuery        = errors.New("invalid query")
	ErrProjectionConflict  = errors.New("cannot both keep and omit fields except for _id")
	ErrInvalidModification = errors.New("invalid modification")
	ErrCannotModifyID      = errors.New("cannot modify _id")
	ErrMatcherFailed       = errors.New("matcher failed")

	// Collection errors
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrSchemaViolation    = errors.New("document invalid against schema")
	ErrInvalidFieldName   = errors.New("invalid field name")
	ErrInvalidCollation   = errors.New("invalid collation")
	ErrUnsupportedValue   = errors.New("unsupported value type")

	// Database errors
	ErrDatabaseClosed = errors.New("database is closed")
)

// UniqueViolationError is returned when an insert would put a second value
// under a key of a unique index.
type UniqueViolationError struct {
	Field string
	Key   interface{}
}

func (e *UniqueViolationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("can't insert key %v, it violates the unique constraint", e.Key)
	}
	return fmt.Sprintf("can't insert key %v on field %q, it violates the unique constraint", e.Key, e.Field)
}

func (e *UniqueViolationError) Unwrap() error { return ErrUniqueViolated }

// InvariantError describes a broken tree invariant found by a checker.
type InvariantError struct {
	Key    interface{}
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s (key %v)", e.Reason, e.Key)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// ProjectionConflictError names the field that mixed pick and omit.
type ProjectionConflictError struct {
	Field string
}

func (e *ProjectionConflictError) Error() string {
	return fmt.Sprintf("%s (field %q)", ErrProjectionConflict.Error(), e.Field)
}

func (e *ProjectionConflictError) Unwrap() error { return ErrProjectionConflict }

// MatcherError wraps a failure raised while evaluating a filter against a
// candidate document.
type MatcherError struct {
	Op  string
	Err error
}

func (e *MatcherError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMatcherFailed.Error(), e.Op, e.Err)
}

func (e *MatcherError) Unwrap() []error { return []error{ErrMatcherFailed, e.Err} }
