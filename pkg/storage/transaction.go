// Package storage - transaction wrapper with ACID guarantees.
//
// This file implements atomic multi-object transactions on top of Badger
// with constraint validation and rollback support.
package storage

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// TransactionStatus tracks a transaction through its lifecycle.
type TransactionStatus int

const (
	TxStatusActive TransactionStatus = iota
	TxStatusCommitted
	TxStatusRolledBack
)

// Transaction wraps Badger's native transaction with unique-index
// maintenance and constraint validation.
//
// Provides ACID guarantees:
//   - Atomicity: all operations commit together or none do
//   - Consistency: index constraints are validated before commit
//   - Isolation: changes invisible until commit
//   - Durability: Badger's WAL plus an explicit fsync at commit
type Transaction struct {
	mu sync.Mutex

	// Transaction identity
	ID        string
	StartTime time.Time
	Status    TransactionStatus

	badgerTx *badger.Txn
	engine   *Engine

	// Read-your-writes state, keyed by string(objectKey).
	pendingObjects map[string]*Object
	deletedObjects map[string]struct{}

	// Unique-index bookkeeping within this transaction, keyed by
	// string(uniqueIndexKey). pendingUnique maps a claimed entry to the
	// object key holding it; freedUnique marks entries released here.
	pendingUnique map[string]string
	freedUnique   map[string]struct{}

	// Buffered writes - collected during the transaction, flushed at
	// commit so Badger sees one batch.
	pendingWrites  map[string][]byte
	pendingDeletes map[string]bool

	opCount int
}

// BeginTransaction starts a new read-write transaction.
func (e *Engine) BeginTransaction() (*Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	return &Transaction{
		ID:             uuid.NewString(),
		StartTime:      time.Now(),
		Status:         TxStatusActive,
		badgerTx:       e.db.NewTransaction(true),
		engine:         e,
		pendingObjects: make(map[string]*Object),
		deletedObjects: make(map[string]struct{}),
		pendingUnique:  make(map[string]string),
		freedUnique:    make(map[string]struct{}),
		pendingWrites:  make(map[string][]byte),
		pendingDeletes: make(map[string]bool),
	}, nil
}

// IsActive returns true while the transaction can still accept operations.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.Status == TxStatusActive
}

// OperationCount returns the number of buffered operations.
func (tx *Transaction) OperationCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.opCount
}

// bufferSet buffers a write to be applied at commit time.
func (tx *Transaction) bufferSet(key []byte, value []byte) {
	keyStr := string(key)
	delete(tx.pendingDeletes, keyStr)
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	tx.pendingWrites[keyStr] = valueCopy
}

// bufferDelete buffers a delete to be applied at commit time.
func (tx *Transaction) bufferDelete(key []byte) {
	keyStr := string(key)
	delete(tx.pendingWrites, keyStr)
	tx.pendingDeletes[keyStr] = true
}

// flushBufferedWrites applies all buffered writes and deletes to the Badger
// transaction. Called at commit time.
func (tx *Transaction) flushBufferedWrites() error {
	for keyStr := range tx.pendingDeletes {
		if err := tx.badgerTx.Delete([]byte(keyStr)); err != nil {
			return fmt.Errorf("flushing delete: %w", err)
		}
	}
	for keyStr, value := range tx.pendingWrites {
		if tx.pendingDeletes[keyStr] {
			continue
		}
		if err := tx.badgerTx.Set([]byte(keyStr), value); err != nil {
			return fmt.Errorf("flushing write: %w", err)
		}
	}
	tx.pendingWrites = make(map[string][]byte)
	tx.pendingDeletes = make(map[string]bool)
	return nil
}

// readStoredObject reads an object from the underlying Badger snapshot,
// ignoring pending state. Returns nil when absent.
func (tx *Transaction) readStoredObject(bucket, key string) (*Object, error) {
	data, err := readValue(tx.badgerTx, objectKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return deserializeObject(data)
}

// currentObject returns the effective object state within the transaction
// (read-your-writes). Returns nil when the object does not exist or was
// deleted earlier in this transaction.
func (tx *Transaction) currentObject(bucket, key string) (*Object, error) {
	okStr := string(objectKey(bucket, key))
	if _, deleted := tx.deletedObjects[okStr]; deleted {
		return nil, nil
	}
	if obj, exists := tx.pendingObjects[okStr]; exists {
		return obj, nil
	}
	return tx.readStoredObject(bucket, key)
}

// Get retrieves an object with read-your-writes semantics. Returns
// ErrObjectNotFound when absent.
func (tx *Transaction) Get(bucket, key string) (*Object, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil, ErrTransactionClosed
	}
	obj, err := tx.currentObject(bucket, key)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrObjectNotFound
	}
	return obj, nil
}

// Put creates or overwrites an object inside the transaction and returns its
// new etag.
//
// When the bucket declares guaranteeOrder, an expected-etag check on a key
// already written earlier in this transaction validates against that earlier
// write's etag; otherwise it validates against the stored snapshot.
func (tx *Transaction) Put(bucket, key string, value Document, opts PutOptions) (string, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return "", ErrTransactionClosed
	}
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if value == nil {
		return "", fmt.Errorf("object value is required")
	}

	cfg, err := tx.engine.GetBucketConfig(bucket)
	if err != nil {
		return "", err
	}
	if err := validateIndexedFields(cfg, value); err != nil {
		return "", err
	}

	current, err := tx.currentObject(bucket, key)
	if err != nil {
		return "", err
	}

	if opts.ExpectedEtag != "" {
		reference := current
		if !cfg.GuaranteeOrder {
			if reference, err = tx.readStoredObject(bucket, key); err != nil {
				return "", err
			}
		}
		actual := ""
		if reference != nil {
			actual = reference.Etag
		}
		if actual != opts.ExpectedEtag {
			return "", &EtagConflictError{
				Bucket:   bucket,
				Key:      key,
				Expected: opts.ExpectedEtag,
				Actual:   actual,
			}
		}
	}

	encodedValue, err := encodeValue(value)
	if err != nil {
		return "", fmt.Errorf("encoding value: %w", err)
	}
	obj := &Object{
		Bucket:  bucket,
		Key:     key,
		Value:   value,
		Etag:    computeEtag(bucket, key, encodedValue),
		ModTime: time.Now().UTC(),
	}

	objKey := objectKey(bucket, key)
	okStr := string(objKey)

	newTokens := uniqueFields(cfg, value)
	var oldTokens map[string]string
	if current != nil {
		oldTokens = uniqueFields(cfg, current.Value)
	}

	// Release stale unique entries before claiming new ones so an object
	// can change its own unique value within one transaction.
	for field, oldTok := range oldTokens {
		if newTokens[field] == oldTok {
			continue
		}
		tx.releaseUnique(uniqueIndexKey(bucket, field, oldTok))
	}

	for field, tok := range newTokens {
		if oldTokens[field] == tok {
			continue
		}
		uk := uniqueIndexKey(bucket, field, tok)
		if err := tx.claimUnique(uk, okStr, bucket, field, value[field]); err != nil {
			return "", err
		}
	}

	blob, err := serializeObject(obj)
	if err != nil {
		return "", err
	}
	tx.bufferSet(objKey, blob)
	tx.pendingObjects[okStr] = obj
	delete(tx.deletedObjects, okStr)
	tx.opCount++

	return obj.Etag, nil
}

// Delete removes an object and its unique-index entries inside the
// transaction. Returns ErrObjectNotFound when the object does not exist in
// the transaction's view.
func (tx *Transaction) Delete(bucket, key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	cfg, err := tx.engine.GetBucketConfig(bucket)
	if err != nil {
		return err
	}

	current, err := tx.currentObject(bucket, key)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrObjectNotFound
	}

	for field, tok := range uniqueFields(cfg, current.Value) {
		tx.releaseUnique(uniqueIndexKey(bucket, field, tok))
	}

	objKey := objectKey(bucket, key)
	okStr := string(objKey)
	tx.bufferDelete(objKey)
	delete(tx.pendingObjects, okStr)
	tx.deletedObjects[okStr] = struct{}{}
	tx.opCount++

	return nil
}

// claimUnique asserts that a unique-index entry is free (or already held by
// this object) and claims it for objKeyStr.
func (tx *Transaction) claimUnique(uk []byte, objKeyStr, bucket, field string, value interface{}) error {
	ukStr := string(uk)

	if holder, claimed := tx.pendingUnique[ukStr]; claimed && holder != objKeyStr {
		return &ConstraintViolationError{
			Kind:    ConstraintUnique,
			Bucket:  bucket,
			Field:   field,
			Message: fmt.Sprintf("value %v already taken in transaction", value),
		}
	}

	if _, freed := tx.freedUnique[ukStr]; !freed {
		holder, err := readValue(tx.badgerTx, uk)
		if err == nil && string(holder) != objKeyStr {
			return &ConstraintViolationError{
				Kind:    ConstraintUnique,
				Bucket:  bucket,
				Field:   field,
				Message: fmt.Sprintf("value %v already taken", value),
			}
		}
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("reading unique index: %w", err)
		}
	}

	// freedUnique stays set after a re-claim: it records that the snapshot
	// entry was superseded in this transaction, which the commit-time
	// re-check consults.
	tx.pendingUnique[ukStr] = objKeyStr
	tx.bufferSet(uk, []byte(objKeyStr))
	return nil
}

// releaseUnique frees a unique-index entry held by this transaction's view.
func (tx *Transaction) releaseUnique(uk []byte) {
	ukStr := string(uk)
	delete(tx.pendingUnique, ukStr)
	tx.freedUnique[ukStr] = struct{}{}
	tx.bufferDelete(uk)
}

// validateAllConstraints re-verifies unique claims against the snapshot just
// before commit. Badger's conflict detection on the tracked reads supplies
// first-committer-wins against concurrent transactions; this pass catches
// claims invalidated within the transaction itself.
func (tx *Transaction) validateAllConstraints() error {
	for ukStr, holder := range tx.pendingUnique {
		stored, err := readValue(tx.badgerTx, []byte(ukStr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading unique index: %w", err)
		}
		if string(stored) != holder {
			if _, freed := tx.freedUnique[ukStr]; freed {
				continue
			}
			bucket, field := splitUniqueIndexKey([]byte(ukStr))
			return &ConstraintViolationError{
				Kind:    ConstraintUnique,
				Bucket:  bucket,
				Field:   field,
				Message: "value already taken",
			}
		}
	}
	return nil
}

// uniqueConflictAfterRace re-reads this transaction's unique claims from a
// fresh snapshot after a commit conflict. A claim now held by a different
// object means a concurrent transaction won the value; the returned violation
// names the losing field. Returns nil when the conflict was not unique-index
// related.
func (tx *Transaction) uniqueConflictAfterRace() *ConstraintViolationError {
	var violation *ConstraintViolationError
	_ = tx.engine.db.View(func(txn *badger.Txn) error {
		for ukStr, holder := range tx.pendingUnique {
			stored, err := readValue(txn, []byte(ukStr))
			if err != nil || string(stored) == holder {
				continue
			}
			bucket, field := splitUniqueIndexKey([]byte(ukStr))
			violation = &ConstraintViolationError{
				Kind:    ConstraintUnique,
				Bucket:  bucket,
				Field:   field,
				Message: "value already taken by a concurrent transaction",
			}
			return nil
		}
		return nil
	})
	return violation
}

// splitUniqueIndexKey recovers bucket and field from a unique-index key for
// error reporting.
func splitUniqueIndexKey(uk []byte) (bucket, field string) {
	rest := uk[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == 0x00 {
			bucket = string(rest[:i])
			rest = rest[i+1:]
			break
		}
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == 0x00 {
			field = string(rest[:i])
			break
		}
	}
	return bucket, field
}

// Commit applies all changes atomically with final constraint validation.
// Committed transactions get an explicit fsync outside in-memory mode.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	if err := tx.validateAllConstraints(); err != nil {
		tx.badgerTx.Discard()
		tx.Status = TxStatusRolledBack
		return fmt.Errorf("constraint violation: %w", err)
	}

	if err := tx.flushBufferedWrites(); err != nil {
		tx.badgerTx.Discard()
		tx.Status = TxStatusRolledBack
		return fmt.Errorf("flushing buffered writes: %w", err)
	}

	if err := tx.badgerTx.Commit(); err != nil {
		tx.Status = TxStatusRolledBack
		if errors.Is(err, badger.ErrConflict) {
			// A lost unique-value race surfaces as a Badger conflict on the
			// tracked index read. Re-check the claims against a fresh
			// snapshot so the loser learns which field it lost on.
			if violation := tx.uniqueConflictAfterRace(); violation != nil {
				return fmt.Errorf("constraint violation: %w", violation)
			}
			return fmt.Errorf("transaction conflict: %w", err)
		}
		return fmt.Errorf("badger commit failed: %w", err)
	}

	// Data must be on disk before we report success. Badger already has it
	// in the WAL, so a failed fsync is logged rather than unwound.
	if !tx.engine.IsInMemory() {
		if err := tx.engine.Sync(); err != nil {
			log.Printf("[transaction %s] warning: fsync failed after commit: %v", tx.ID, err)
		}
	}

	tx.Status = TxStatusCommitted
	return nil
}

// Rollback discards all changes.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	tx.badgerTx.Discard()
	tx.pendingWrites = make(map[string][]byte)
	tx.pendingDeletes = make(map[string]bool)
	tx.Status = TxStatusRolledBack
	return nil
}
