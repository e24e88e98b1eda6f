package moray

import (
	"context"
	"fmt"
	"sync"

	"github.com/joyent/electric-moray/pkg/storage"
)

// Config configures a DB. The zero value is usable.
type Config struct {
	// InMemory runs the storage engine without disk persistence.
	InMemory bool

	// SyncWrites makes the engine fsync every single-object write.
	SyncWrites bool

	// Serializer selects the object encoding ("msgpack" or "gob"). Empty
	// keeps the current process-wide default.
	Serializer string
}

// PutOptions carries per-write options.
type PutOptions = storage.PutOptions

// Object is a stored document plus identity and version metadata.
type Object = storage.Object

// DB is an embedded electric-moray database.
type DB struct {
	mu      sync.RWMutex
	engine  *storage.Engine
	schemas map[string]*BucketSchema
	closed  bool
}

// Open opens (or creates) a database rooted at dir. A nil config uses
// defaults. Bucket index declarations, key-transform names and options are
// reloaded from storage; trigger functions are process-local and must be
// re-registered via RegisterTriggers.
func Open(dir string, cfg *Config) (*DB, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Serializer != "" {
		if err := storage.SetSerializer(storage.Serializer(cfg.Serializer)); err != nil {
			return nil, err
		}
	}

	engine, err := storage.Open(storage.Options{
		Dir:        dir,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
	})
	if err != nil {
		return nil, err
	}

	db := &DB{
		engine:  engine,
		schemas: make(map[string]*BucketSchema),
	}
	for _, bc := range engine.ListBuckets() {
		db.schemas[bc.Name] = &BucketSchema{
			Index:     bc.Index,
			Transform: bc.Transform,
			Options:   BucketOptions{GuaranteeOrder: bc.GuaranteeOrder},
		}
	}
	return db, nil
}

// Close shuts the database down. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	return db.engine.Close()
}

func (db *DB) ensureOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

// CreateBucket defines a new bucket. The schema's Index, Transform and
// Options persist; PreTriggers, PostTriggers and TransformFunc are kept for
// this process only.
func (db *DB) CreateBucket(ctx context.Context, name string, schema *BucketSchema) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if schema == nil {
		schema = &BucketSchema{}
	}
	if schema.TransformFunc == nil {
		if _, err := lookupTransform(schema.Transform); err != nil {
			return fmt.Errorf("bucket %q: %w", name, err)
		}
	}

	if err := db.engine.CreateBucket(&storage.BucketConfig{
		Name:           name,
		Index:          schema.Index,
		Transform:      schema.Transform,
		GuaranteeOrder: schema.Options.GuaranteeOrder,
	}); err != nil {
		return err
	}

	db.mu.Lock()
	db.schemas[name] = schema
	db.mu.Unlock()
	return nil
}

// DeleteBucket removes a bucket and all of its objects.
func (db *DB) DeleteBucket(ctx context.Context, name string) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := db.engine.DeleteBucket(name); err != nil {
		return err
	}

	db.mu.Lock()
	delete(db.schemas, name)
	db.mu.Unlock()
	return nil
}

// GetBucket returns a bucket's schema, or ErrBucketNotFound.
func (db *DB) GetBucket(name string) (*BucketSchema, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	schema, ok := db.schemas[name]
	if !ok {
		return nil, ErrBucketNotFound
	}
	return schema, nil
}

// RegisterTriggers attaches pre/post triggers to an existing bucket,
// replacing any previously registered set. Triggers do not persist across
// restarts. The bucket's schema is replaced, not mutated, so operations
// already holding the previous schema finish with the trigger set they
// started with.
func (db *DB) RegisterTriggers(bucket string, pre, post []Trigger) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	schema, ok := db.schemas[bucket]
	if !ok {
		return ErrBucketNotFound
	}
	next := *schema
	next.PreTriggers = append([]Trigger(nil), pre...)
	next.PostTriggers = append([]Trigger(nil), post...)
	db.schemas[bucket] = &next
	return nil
}

// GetObject returns the object stored under (bucket, key), or an error
// matching ErrObjectNotFound.
func (db *DB) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.engine.GetObject(bucket, key)
}

// PutObject creates or overwrites one object, running the bucket's trigger
// pipeline around the write. Returns the new etag. A post-trigger failure is
// returned alongside the etag; the write itself stays durable.
func (db *DB) PutObject(ctx context.Context, bucket, key string, value Document, opts PutOptions) (string, error) {
	if err := db.ensureOpen(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	schema, err := db.GetBucket(bucket)
	if err != nil {
		return "", err
	}

	rec := &TriggerRecord{Bucket: bucket, Key: key, Value: copyDocument(value)}
	if err := runPreTriggers(ctx, schema, rec); err != nil {
		return "", err
	}

	etag, err := db.engine.PutObject(bucket, key, rec.Value, opts)
	if err != nil {
		return "", err
	}

	if err := runPostTriggers(ctx, schema, rec); err != nil {
		return etag, err
	}
	return etag, nil
}

// DelObject removes one object, or returns an error matching
// ErrObjectNotFound.
func (db *DB) DelObject(ctx context.Context, bucket, key string) error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.engine.DeleteObject(bucket, key)
}
