// Package storage - single-object operations.
//
// These are the non-transactional fast paths. Batch writes go through
// Transaction, which buffers writes and revalidates constraints at commit.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// PutObject creates or overwrites one object, maintaining unique-index
// entries and honoring an optional expected etag. Returns the new etag.
func (e *Engine) PutObject(bucket, key string, value Document, opts PutOptions) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if value == nil {
		return "", fmt.Errorf("object value is required")
	}

	cfg, err := e.GetBucketConfig(bucket)
	if err != nil {
		return "", err
	}
	if err := validateIndexedFields(cfg, value); err != nil {
		return "", err
	}

	var etag string
	err = e.withUpdate(func(txn *badger.Txn) error {
		etag = ""
		obj, err := putObjectTxn(txn, cfg, bucket, key, value, opts)
		if err != nil {
			return err
		}
		etag = obj.Etag
		return nil
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

// GetObject returns the object stored under (bucket, key), or
// ErrObjectNotFound.
func (e *Engine) GetObject(bucket, key string) (*Object, error) {
	if _, err := e.GetBucketConfig(bucket); err != nil {
		return nil, err
	}

	var obj *Object
	err := e.withView(func(txn *badger.Txn) error {
		data, err := readValue(txn, objectKey(bucket, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrObjectNotFound
		}
		if err != nil {
			return fmt.Errorf("reading object: %w", err)
		}
		obj, err = deserializeObject(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// DeleteObject removes one object and its unique-index entries.
func (e *Engine) DeleteObject(bucket, key string) error {
	cfg, err := e.GetBucketConfig(bucket)
	if err != nil {
		return err
	}

	return e.withUpdate(func(txn *badger.Txn) error {
		return deleteObjectTxn(txn, cfg, bucket, key)
	})
}

// putObjectTxn applies a put directly against a Badger transaction.
func putObjectTxn(txn *badger.Txn, cfg *BucketConfig, bucket, key string, value Document, opts PutOptions) (*Object, error) {
	objKey := objectKey(bucket, key)

	// Load the currently stored object, if any, for etag checks and stale
	// unique-index cleanup.
	var current *Object
	data, err := readValue(txn, objKey)
	switch {
	case err == nil:
		current, err = deserializeObject(data)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return nil, fmt.Errorf("reading object: %w", err)
	}

	if opts.ExpectedEtag != "" {
		actual := ""
		if current != nil {
			actual = current.Etag
		}
		if actual != opts.ExpectedEtag {
			return nil, &EtagConflictError{
				Bucket:   bucket,
				Key:      key,
				Expected: opts.ExpectedEtag,
				Actual:   actual,
			}
		}
	}

	encodedValue, err := encodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	obj := &Object{
		Bucket:  bucket,
		Key:     key,
		Value:   value,
		Etag:    computeEtag(bucket, key, encodedValue),
		ModTime: time.Now().UTC(),
	}

	newTokens := uniqueFields(cfg, value)
	var oldTokens map[string]string
	if current != nil {
		oldTokens = uniqueFields(cfg, current.Value)
	}

	// Free stale unique entries before claiming new ones so an object can
	// change its own unique value in one write.
	for field, oldTok := range oldTokens {
		if newTokens[field] == oldTok {
			continue
		}
		if err := txn.Delete(uniqueIndexKey(bucket, field, oldTok)); err != nil {
			return nil, fmt.Errorf("clearing unique index: %w", err)
		}
	}

	for field, tok := range newTokens {
		if oldTokens[field] == tok {
			continue
		}
		uk := uniqueIndexKey(bucket, field, tok)
		holder, err := readValue(txn, uk)
		if err == nil && string(holder) != string(objKey) {
			return nil, &ConstraintViolationError{
				Kind:    ConstraintUnique,
				Bucket:  bucket,
				Field:   field,
				Message: fmt.Sprintf("value %v already taken", value[field]),
			}
		}
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("reading unique index: %w", err)
		}
		if err := txn.Set(uk, objKey); err != nil {
			return nil, fmt.Errorf("writing unique index: %w", err)
		}
	}

	blob, err := serializeObject(obj)
	if err != nil {
		return nil, err
	}
	if err := txn.Set(objKey, blob); err != nil {
		return nil, fmt.Errorf("writing object: %w", err)
	}
	return obj, nil
}

// deleteObjectTxn applies a delete directly against a Badger transaction.
func deleteObjectTxn(txn *badger.Txn, cfg *BucketConfig, bucket, key string) error {
	objKey := objectKey(bucket, key)

	data, err := readValue(txn, objKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	current, err := deserializeObject(data)
	if err != nil {
		return err
	}

	for field, tok := range uniqueFields(cfg, current.Value) {
		if err := txn.Delete(uniqueIndexKey(bucket, field, tok)); err != nil {
			return fmt.Errorf("clearing unique index: %w", err)
		}
	}
	if err := txn.Delete(objKey); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}
