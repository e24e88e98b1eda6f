// Package moray is the embedded electric-moray database: bucket-oriented
// key/value storage with secondary indexes, per-bucket triggers, and an
// atomic batch-write engine.
package moray

import (
	"context"

	"github.com/joyent/electric-moray/pkg/storage"
)

// Document is the schemaless value stored under a (bucket, key) pair.
type Document = storage.Document

// IndexField declares one indexed field of a bucket.
type IndexField = storage.IndexField

// Index type aliases, re-exported for callers defining bucket schemas.
const (
	IndexString  = storage.IndexString
	IndexNumber  = storage.IndexNumber
	IndexBoolean = storage.IndexBoolean
)

// TriggerRecord is the mutable candidate record handed to triggers. Pre
// triggers may rewrite Value before the write becomes durable; post triggers
// observe the value that was written.
type TriggerRecord struct {
	Bucket string
	Key    string
	Value  Document
}

// Trigger is a bucket-scoped hook invoked around object writes. A trigger
// signals completion by returning; a non-nil error fails the hook.
type Trigger func(ctx context.Context, rec *TriggerRecord) error

// BucketOptions carries per-bucket behavioral flags.
type BucketOptions struct {
	// GuaranteeOrder serializes same-key operations within one batch in
	// request order, so a later operation observes the earlier one's
	// effect (including for expected-etag checks).
	GuaranteeOrder bool `json:"guaranteeOrder,omitempty"`
}

// BucketSchema defines a bucket: its indexed fields, key transform, triggers
// and options. Index, Transform and Options persist across restarts; trigger
// functions and TransformFunc are process-local and must be re-registered by
// the embedding application.
type BucketSchema struct {
	// Index maps field names to index declarations.
	Index map[string]IndexField `json:"index,omitempty"`

	// Transform names a registered key transform used for batch routing
	// checks. Empty means identity.
	Transform string `json:"transform,omitempty"`

	// TransformFunc overrides Transform with a custom function. Never
	// persisted.
	TransformFunc TransformFunc `json:"-"`

	// PreTriggers run in declared order before a put becomes durable.
	PreTriggers []Trigger `json:"-"`

	// PostTriggers run in declared order after a put is durable.
	PostTriggers []Trigger `json:"-"`

	Options BucketOptions `json:"options,omitempty"`
}

// copyDocument deep-copies a document so trigger mutations never alias the
// caller's value.
func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyDocumentValue(v)
	}
	return out
}

func copyDocumentValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = copyDocumentValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyDocumentValue(item)
		}
		return out
	default:
		return v
	}
}
