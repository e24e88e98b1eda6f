// Package storage - bucket configuration persistence.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const bucketConfigVersion = 1

// loadBucketConfigs loads all persisted bucket configurations into memory.
// Run during engine startup so decode errors fail fast instead of silently
// disabling index constraints.
func (e *Engine) loadBucketConfigs() error {
	var loaded []*BucketConfig

	if err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixBucket}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[1:])

			var data []byte
			if err := item.Value(func(val []byte) error {
				data = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return fmt.Errorf("bucket: read %q: %w", name, err)
			}

			var cfg BucketConfig
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("bucket: decode %q: %w", name, err)
			}
			if cfg.Name == "" {
				cfg.Name = name
			}
			if cfg.Version == 0 {
				cfg.Version = bucketConfigVersion
			}
			loaded = append(loaded, &cfg)
		}
		return nil
	}); err != nil {
		return err
	}

	e.bucketsMu.Lock()
	for _, cfg := range loaded {
		e.buckets[cfg.Name] = cfg
	}
	e.bucketsMu.Unlock()

	return nil
}

func validateBucketName(name string) error {
	if name == "" {
		return fmt.Errorf("bucket name is required")
	}
	if strings.ContainsRune(name, 0x00) {
		return fmt.Errorf("bucket name must not contain NUL bytes")
	}
	return nil
}

func validateBucketConfig(cfg *BucketConfig) error {
	if cfg == nil {
		return fmt.Errorf("bucket config is required")
	}
	if err := validateBucketName(cfg.Name); err != nil {
		return err
	}
	for field, decl := range cfg.Index {
		if field == "" {
			return fmt.Errorf("bucket %q: indexed field name is required", cfg.Name)
		}
		switch decl.Type {
		case IndexString, IndexNumber, IndexBoolean:
		default:
			return fmt.Errorf("bucket %q: field %q: unknown index type %q",
				cfg.Name, field, decl.Type)
		}
	}
	return nil
}

// CreateBucket persists a bucket configuration and installs it in the
// registry. Fails with ErrBucketExists when the bucket is already defined.
func (e *Engine) CreateBucket(cfg *BucketConfig) error {
	if err := validateBucketConfig(cfg); err != nil {
		return err
	}
	if err := e.ensureOpen(); err != nil {
		return err
	}

	e.bucketsMu.Lock()
	defer e.bucketsMu.Unlock()

	if _, exists := e.buckets[cfg.Name]; exists {
		return ErrBucketExists
	}

	if cfg.Version == 0 {
		cfg.Version = bucketConfigVersion
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("bucket: marshal %q: %w", cfg.Name, err)
	}

	if err := e.withUpdate(func(txn *badger.Txn) error {
		return txn.Set(bucketKey(cfg.Name), blob)
	}); err != nil {
		return err
	}

	e.buckets[cfg.Name] = cfg
	return nil
}

// DeleteBucket removes a bucket, its objects and its unique-index entries.
func (e *Engine) DeleteBucket(name string) error {
	if err := validateBucketName(name); err != nil {
		return err
	}
	if err := e.ensureOpen(); err != nil {
		return err
	}

	e.bucketsMu.Lock()
	defer e.bucketsMu.Unlock()

	if _, exists := e.buckets[name]; !exists {
		return ErrBucketNotFound
	}

	if err := e.deleteByPrefix(objectPrefix(name)); err != nil {
		return fmt.Errorf("bucket: drop objects of %q: %w", name, err)
	}
	if err := e.deleteByPrefix(uniqueIndexPrefix(name)); err != nil {
		return fmt.Errorf("bucket: drop unique index of %q: %w", name, err)
	}
	if err := e.withUpdate(func(txn *badger.Txn) error {
		return txn.Delete(bucketKey(name))
	}); err != nil {
		return err
	}

	delete(e.buckets, name)
	return nil
}

// GetBucketConfig returns the configuration of a bucket.
func (e *Engine) GetBucketConfig(name string) (*BucketConfig, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}

	e.bucketsMu.RLock()
	defer e.bucketsMu.RUnlock()

	cfg, ok := e.buckets[name]
	if !ok {
		return nil, ErrBucketNotFound
	}
	return cfg, nil
}

// ListBuckets returns the configurations of all buckets.
func (e *Engine) ListBuckets() []*BucketConfig {
	e.bucketsMu.RLock()
	defer e.bucketsMu.RUnlock()

	out := make([]*BucketConfig, 0, len(e.buckets))
	for _, cfg := range e.buckets {
		out = append(out, cfg)
	}
	return out
}

// deleteByPrefix removes every key under prefix, batching deletes per
// transaction to stay under Badger's transaction size limits.
func (e *Engine) deleteByPrefix(prefix []byte) error {
	const batchSize = 1000

	for {
		var keys [][]byte
		if err := e.withView(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid() && len(keys) < batchSize; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		}); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		if err := e.withUpdate(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
}
