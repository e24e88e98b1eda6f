package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	t.Run("multi-object commit is atomic", func(t *testing.T) {
		e := newAccountsEngine(t)
		require.NoError(t, e.CreateBucket(&BucketConfig{Name: "groups"}))

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		assert.True(t, tx.IsActive())

		etag1, err := tx.Put("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		etag2, err := tx.Put("groups", "g1", Document{"name": "ops"}, PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, tx.OperationCount())

		// Invisible until commit.
		_, err = e.GetObject("accounts", "a1")
		assert.ErrorIs(t, err, ErrObjectNotFound)

		require.NoError(t, tx.Commit())
		assert.False(t, tx.IsActive())

		obj, err := e.GetObject("accounts", "a1")
		require.NoError(t, err)
		assert.Equal(t, etag1, obj.Etag)
		obj, err = e.GetObject("groups", "g1")
		require.NoError(t, err)
		assert.Equal(t, etag2, obj.Etag)
	})

	t.Run("rollback leaves no effect", func(t *testing.T) {
		e := newAccountsEngine(t)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		_, err = tx.Put("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		_, err = e.GetObject("accounts", "a1")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("closed transaction rejects operations", func(t *testing.T) {
		e := newAccountsEngine(t)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		_, err = tx.Put("accounts", "a1", Document{}, PutOptions{})
		assert.ErrorIs(t, err, ErrTransactionClosed)
		assert.ErrorIs(t, tx.Delete("accounts", "a1"), ErrTransactionClosed)
		assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
		assert.ErrorIs(t, tx.Rollback(), ErrTransactionClosed)
	})
}

func TestTransactionReadYourWrites(t *testing.T) {
	e := newAccountsEngine(t)

	_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
	require.NoError(t, err)

	tx, err := e.BeginTransaction()
	require.NoError(t, err)
	defer tx.Rollback()

	t.Run("sees stored state", func(t *testing.T) {
		obj, err := tx.Get("accounts", "a1")
		require.NoError(t, err)
		assert.Equal(t, "trent", obj.Value["login"])
	})

	t.Run("sees pending writes", func(t *testing.T) {
		_, err := tx.Put("accounts", "a2", Document{"login": "riley"}, PutOptions{})
		require.NoError(t, err)

		obj, err := tx.Get("accounts", "a2")
		require.NoError(t, err)
		assert.Equal(t, "riley", obj.Value["login"])
	})

	t.Run("sees pending deletes", func(t *testing.T) {
		require.NoError(t, tx.Delete("accounts", "a1"))
		_, err := tx.Get("accounts", "a1")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestTransactionDelete(t *testing.T) {
	t.Run("delete of missing object fails", func(t *testing.T) {
		e := newAccountsEngine(t)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		defer tx.Rollback()

		assert.ErrorIs(t, tx.Delete("accounts", "ghost"), ErrObjectNotFound)
	})

	t.Run("delete frees unique value inside transaction", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		require.NoError(t, tx.Delete("accounts", "a1"))
		_, err = tx.Put("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		obj, err := e.GetObject("accounts", "a2")
		require.NoError(t, err)
		assert.Equal(t, "trent", obj.Value["login"])
	})
}

func TestTransactionUniqueConstraints(t *testing.T) {
	t.Run("conflict with stored object", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = tx.Put("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		var violation *ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintUnique, violation.Kind)
		assert.Equal(t, "login", violation.Field)
	})

	t.Run("conflict between pending objects", func(t *testing.T) {
		e := newAccountsEngine(t)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = tx.Put("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		_, err = tx.Put("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		var violation *ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintUnique, violation.Kind)
	})

	t.Run("object may change its own unique value", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		_, err = tx.Put("accounts", "a1", Document{"login": "riley"}, PutOptions{})
		require.NoError(t, err)
		// Freed value claimed by another object in the same transaction.
		_, err = tx.Put("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		obj, err := e.GetObject("accounts", "a2")
		require.NoError(t, err)
		assert.Equal(t, "trent", obj.Value["login"])
	})
}

func TestTransactionFirstCommitterWins(t *testing.T) {
	e := newAccountsEngine(t)

	tx1, err := e.BeginTransaction()
	require.NoError(t, err)
	tx2, err := e.BeginTransaction()
	require.NoError(t, err)

	// Neither transaction sees the other's pending claim, so both puts
	// succeed; the race is decided at commit.
	_, err = tx1.Put("accounts", "a1", Document{"login": "trent"}, PutOptions{})
	require.NoError(t, err)
	_, err = tx2.Put("accounts", "a2", Document{"login": "trent"}, PutOptions{})
	require.NoError(t, err)

	require.NoError(t, tx1.Commit())

	err = tx2.Commit()
	var violation *ConstraintViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ConstraintUnique, violation.Kind)
	assert.Equal(t, "accounts", violation.Bucket)
	assert.Equal(t, "login", violation.Field)
	assert.False(t, tx2.IsActive())

	// Only the winner's object exists.
	obj, err := e.GetObject("accounts", "a1")
	require.NoError(t, err)
	assert.Equal(t, "trent", obj.Value["login"])
	_, err = e.GetObject("accounts", "a2")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestTransactionExpectedEtag(t *testing.T) {
	t.Run("unordered bucket validates against snapshot", func(t *testing.T) {
		e := newAccountsEngine(t)

		tx, err := e.BeginTransaction()
		require.NoError(t, err)
		defer tx.Rollback()

		etag, err := tx.Put("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)

		// The snapshot has no such object, so chaining off the pending
		// etag must conflict.
		_, err = tx.Put("accounts", "a1", Document{"login": "riley"},
			PutOptions{ExpectedEtag: etag})
		var conflict *EtagConflictError
		assert.ErrorAs(t, err, &conflict)
	})

	t.Run("ordered bucket observes earlier writes", func(t *testing.T) {
		e := openTestEngine(t)
		require.NoError(t, e.CreateBucket(&BucketConfig{
			Name:           "queue",
			GuaranteeOrder: true,
		}))

		tx, err := e.BeginTransaction()
		require.NoError(t, err)

		etag, err := tx.Put("queue", "q1", Document{"seq": 1}, PutOptions{})
		require.NoError(t, err)
		_, err = tx.Put("queue", "q1", Document{"seq": 2},
			PutOptions{ExpectedEtag: etag})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		obj, err := e.GetObject("queue", "q1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, obj.Value["seq"])
	})
}
