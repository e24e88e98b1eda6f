// Package moray - the atomic batch-write engine.
//
// A batch is validated as a unit, routed through per-bucket key transforms,
// run through the trigger pipeline, and applied as one all-or-nothing
// storage transaction. Either every request's effect is durably visible, or
// none is.
package moray

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joyent/electric-moray/pkg/storage"
)

// Operation is the closed set of batch request operations. Anything outside
// the set parses to an explicit unrecognized value and is rejected before
// any mutation.
type Operation int

const (
	OperationPut Operation = iota
	OperationDelete
	operationUnrecognized
)

// parseOperation maps the wire operation string onto the closed variant.
// An absent operation means put.
func parseOperation(s string) (Operation, bool) {
	switch s {
	case "", "put":
		return OperationPut, true
	case "delete":
		return OperationDelete, true
	default:
		return operationUnrecognized, false
	}
}

// BatchRequest is one write request inside a batch. Operation defaults to
// put when omitted.
type BatchRequest struct {
	Operation    string   `json:"operation,omitempty"`
	Bucket       string   `json:"bucket"`
	Key          string   `json:"key"`
	Value        Document `json:"value,omitempty"`
	ExpectedEtag string   `json:"etag,omitempty"`
}

// BatchResultEntry mirrors one input request. Etag is present for put-class
// results and absent for deletes; Bucket and Key are the literal request
// values so callers can match by index.
type BatchResultEntry struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Etag   string `json:"etag,omitempty"`
}

// BatchResult is the ordered result set of a successful batch, one entry per
// input request in input order.
type BatchResult struct {
	Etags []BatchResultEntry `json:"etags"`
}

// preparedRequest is a batch request after validation and key resolution.
type preparedRequest struct {
	op     Operation
	bucket string
	key    string
	schema *BucketSchema

	// value is a private deep copy; pre triggers mutate it without
	// touching the caller's document.
	value Document

	expectedEtag string
	transformKey string
}

// Batch validates and applies a list of write requests as a single atomic
// transaction, returning one result entry per request in input order.
//
// Validation runs before any mutation: operation legality first (an
// unsupported operation fails the whole batch even alongside valid
// requests), then the invariant that every request's key transforms to the
// same transform key. On any validation or execution failure the result is
// nil and nothing was applied.
//
// A post-trigger failure does not unwind the already-durable writes: the
// result is returned together with an error describing which object's
// post phase failed.
func (db *DB) Batch(ctx context.Context, requests []BatchRequest) (*BatchResult, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared, err := db.prepareBatch(requests)
	if err != nil {
		return nil, err
	}

	if err := db.runBatchPreTriggers(ctx, prepared); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := db.executeBatch(prepared)
	if err != nil {
		return nil, err
	}

	// Post phase: best-effort side channel. Failures are reported, never
	// rolled back.
	return result, db.runBatchPostTriggers(ctx, prepared)
}

// prepareBatch validates the batch and resolves transform keys. No mutation
// happens here.
func (db *DB) prepareBatch(requests []BatchRequest) ([]*preparedRequest, error) {
	if len(requests) == 0 {
		return nil, &ValidationError{Message: "batch must contain at least one request"}
	}

	// Operation legality is checked for the whole batch before anything
	// else so an unsupported operation fails fast.
	ops := make([]Operation, len(requests))
	for i, req := range requests {
		op, ok := parseOperation(req.Operation)
		if !ok {
			return nil, errOperationNotAllowed(req.Operation)
		}
		ops[i] = op
	}

	prepared := make([]*preparedRequest, len(requests))
	for i, req := range requests {
		schema, err := db.GetBucket(req.Bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket %q: %w", req.Bucket, err)
		}

		transform := schema.TransformFunc
		if transform == nil {
			if transform, err = lookupTransform(schema.Transform); err != nil {
				return nil, fmt.Errorf("bucket %q: %w", req.Bucket, err)
			}
		}

		prepared[i] = &preparedRequest{
			op:           ops[i],
			bucket:       req.Bucket,
			key:          req.Key,
			schema:       schema,
			value:        copyDocument(req.Value),
			expectedEtag: req.ExpectedEtag,
			transformKey: transform(req.Key),
		}
	}

	// Every request must transform to one key, regardless of differing
	// literal keys or buckets. Single batch-scoped error, not per-request.
	for _, p := range prepared[1:] {
		if p.transformKey != prepared[0].transformKey {
			return nil, errTransformMismatch()
		}
	}

	for i, p := range prepared {
		if p.op == OperationPut && p.value == nil {
			return nil, &ValidationError{
				Message: fmt.Sprintf("put request %d (%s/%s) requires a value", i, p.bucket, p.key),
			}
		}
	}

	return prepared, nil
}

// runBatchPreTriggers runs pre-commit triggers for every put request. Hook
// chains for distinct objects run concurrently; requests targeting the same
// (bucket, key) run sequentially in request order.
func (db *DB) runBatchPreTriggers(ctx context.Context, prepared []*preparedRequest) error {
	groups := make(map[string][]*preparedRequest)
	order := make([]string, 0, len(prepared))
	for _, p := range prepared {
		if p.op != OperationPut || len(p.schema.PreTriggers) == 0 {
			continue
		}
		gk := p.bucket + "\x00" + p.key
		if _, seen := groups[gk]; !seen {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], p)
	}
	if len(groups) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(order))
	for i, gk := range order {
		wg.Add(1)
		go func(i int, reqs []*preparedRequest) {
			defer wg.Done()
			for _, p := range reqs {
				rec := &TriggerRecord{Bucket: p.bucket, Key: p.key, Value: p.value}
				if err := runPreTriggers(ctx, p.schema, rec); err != nil {
					errs[i] = err
					return
				}
				p.value = rec.Value
			}
		}(i, groups[gk])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeBatch applies the prepared requests as one storage transaction and
// assembles the ordered result set.
func (db *DB) executeBatch(prepared []*preparedRequest) (*BatchResult, error) {
	tx, err := db.engine.BeginTransaction()
	if err != nil {
		return nil, err
	}

	entries := make([]BatchResultEntry, len(prepared))
	for i, p := range prepared {
		entry := BatchResultEntry{Bucket: p.bucket, Key: p.key}
		switch p.op {
		case OperationPut:
			etag, err := tx.Put(p.bucket, p.key, p.value, storage.PutOptions{
				ExpectedEtag: p.expectedEtag,
			})
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			entry.Etag = etag
		case OperationDelete:
			if err := tx.Delete(p.bucket, p.key); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		entries[i] = entry
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &BatchResult{Etags: entries}, nil
}

// runBatchPostTriggers runs post-commit triggers for every put request in
// request order. All chains run even when one fails; failures are joined
// into one reported error.
func (db *DB) runBatchPostTriggers(ctx context.Context, prepared []*preparedRequest) error {
	var errs []error
	for _, p := range prepared {
		if p.op != OperationPut || len(p.schema.PostTriggers) == 0 {
			continue
		}
		rec := &TriggerRecord{Bucket: p.bucket, Key: p.key, Value: p.value}
		if err := runPostTriggers(ctx, p.schema, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
