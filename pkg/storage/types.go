package storage

import "time"

// Document is the schemaless value stored under a (bucket, key) pair.
type Document = map[string]interface{}

// Object is a stored document plus its identity and version metadata.
type Object struct {
	Bucket  string    `json:"bucket" msgpack:"bucket"`
	Key     string    `json:"key" msgpack:"key"`
	Value   Document  `json:"value" msgpack:"value"`
	Etag    string    `json:"etag" msgpack:"etag"`
	ModTime time.Time `json:"mtime" msgpack:"mtime"`
}

// IndexType is the declared value type of an indexed field.
type IndexType string

const (
	IndexString  IndexType = "string"
	IndexNumber  IndexType = "number"
	IndexBoolean IndexType = "boolean"
)

// IndexField declares one indexed field of a bucket.
type IndexField struct {
	Type   IndexType `json:"type"`
	Unique bool      `json:"unique,omitempty"`
}

// BucketConfig is the durable part of a bucket definition. Trigger functions
// and custom key transforms are process-local and live above the storage
// layer; only declarative configuration persists.
type BucketConfig struct {
	Name string `json:"name"`

	// Index maps field names to their index declarations.
	Index map[string]IndexField `json:"index,omitempty"`

	// Transform names the key transform used for batch routing checks.
	// Empty means identity.
	Transform string `json:"transform,omitempty"`

	// GuaranteeOrder serializes same-key operations within one transaction
	// in request order.
	GuaranteeOrder bool `json:"guaranteeOrder,omitempty"`

	Version int `json:"version,omitempty"`
}

// PutOptions carries per-write options.
type PutOptions struct {
	// ExpectedEtag enables optimistic concurrency: the write only succeeds
	// if the stored object currently carries this etag. Empty disables the
	// check.
	ExpectedEtag string
}
