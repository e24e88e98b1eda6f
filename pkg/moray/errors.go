package moray

import (
	"errors"
	"fmt"

	"github.com/joyent/electric-moray/pkg/storage"
)

// Sentinel errors re-exported from the storage layer so callers can match
// without importing it.
var (
	ErrObjectNotFound = storage.ErrObjectNotFound
	ErrBucketNotFound = storage.ErrBucketNotFound
	ErrBucketExists   = storage.ErrBucketExists
)

// ErrDatabaseClosed is returned by operations on a closed DB.
var ErrDatabaseClosed = errors.New("database is closed")

// ValidationError rejects a batch before any mutation. The message is the
// contract: callers match on it, so Error returns it verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func errOperationNotAllowed(op string) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("%q is not an allowed batch operation", op),
	}
}

func errTransformMismatch() *ValidationError {
	return &ValidationError{
		Message: "all requests must transform to the same key",
	}
}

// TriggerPhase identifies which side of the durable write a trigger ran on.
type TriggerPhase string

const (
	TriggerPre  TriggerPhase = "pre"
	TriggerPost TriggerPhase = "post"
)

// TriggerError reports a failed bucket trigger. For the post phase the
// underlying write is already durable; the error is a side-channel report,
// not a rollback.
type TriggerError struct {
	Phase  TriggerPhase
	Bucket string
	Key    string
	Index  int
	Err    error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("%s-trigger %d on %s/%s failed: %v",
		e.Phase, e.Index, e.Bucket, e.Key, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}
