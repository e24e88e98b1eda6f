package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrTransactionClosed is returned when a transaction has already been
	// committed or rolled back.
	ErrTransactionClosed = errors.New("transaction is no longer active")

	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the requested bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrBucketExists is returned when creating a bucket that already exists.
	ErrBucketExists = errors.New("bucket already exists")
)

// ConstraintKind identifies which class of index constraint was violated.
type ConstraintKind string

const (
	ConstraintUnique      ConstraintKind = "unique"
	ConstraintFieldType   ConstraintKind = "type"
	ConstraintUnsupported ConstraintKind = "unsupported"
)

// ConstraintViolationError is returned when an indexed field violates its
// declared type or uniqueness constraint.
type ConstraintViolationError struct {
	Kind    ConstraintKind
	Bucket  string
	Field   string
	Message string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation (%s on %s.%s): %s",
		e.Kind, e.Bucket, e.Field, e.Message)
}

// EtagConflictError is returned when a write carried an expected etag that no
// longer matches the stored object.
type EtagConflictError struct {
	Bucket   string
	Key      string
	Expected string
	Actual   string
}

func (e *EtagConflictError) Error() string {
	return fmt.Sprintf("etag conflict on %s/%s: expected %q, have %q",
		e.Bucket, e.Key, e.Expected, e.Actual)
}
