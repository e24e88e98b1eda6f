// Package storage - BadgerDB engine lifecycle.
package storage

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Options configures the storage engine.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory runs Badger without disk persistence (tests, ephemeral use).
	InMemory bool

	// SyncWrites makes Badger fsync every write. Transactions fsync at
	// commit regardless via Sync().
	SyncWrites bool
}

// Engine is the Badger-backed storage engine for buckets and objects.
type Engine struct {
	mu     sync.Mutex
	db     *badger.DB
	closed bool

	inMemory bool

	bucketsMu sync.RWMutex
	buckets   map[string]*BucketConfig
}

// Open opens (or creates) the storage engine.
func Open(opts Options) (*Engine, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", opts.Dir, err)
	}

	e := &Engine{
		db:       db,
		inMemory: opts.InMemory,
		buckets:  make(map[string]*BucketConfig),
	}

	// Fail fast on unreadable bucket configs instead of silently running
	// without index constraints.
	if err := e.loadBucketConfigs(); err != nil {
		db.Close()
		return nil, err
	}

	return e, nil
}

// Close shuts the engine down. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// IsInMemory reports whether the engine runs without disk persistence.
func (e *Engine) IsInMemory() bool {
	return e.inMemory
}

// Sync forces an fsync of Badger's value log.
func (e *Engine) Sync() error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return e.db.Sync()
}

func (e *Engine) ensureOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// withView runs fn in a read-only Badger transaction.
func (e *Engine) withView(fn func(txn *badger.Txn) error) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return e.db.View(fn)
}

// withUpdate runs fn in a read-write Badger transaction.
func (e *Engine) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return e.db.Update(fn)
}

// readValue copies the value stored under key within txn. Returns
// badger.ErrKeyNotFound when absent.
func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
