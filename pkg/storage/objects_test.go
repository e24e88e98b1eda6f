package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountsEngine(t *testing.T) *Engine {
	t.Helper()
	e := openTestEngine(t)
	require.NoError(t, e.CreateBucket(&BucketConfig{
		Name: "accounts",
		Index: map[string]IndexField{
			"login":  {Type: IndexString, Unique: true},
			"uid":    {Type: IndexNumber},
			"active": {Type: IndexBoolean},
		},
	}))
	return e
}

func TestPutGetDelete(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		e := newAccountsEngine(t)

		etag, err := e.PutObject("accounts", "a1", Document{"login": "trent", "uid": 100}, PutOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, etag)

		obj, err := e.GetObject("accounts", "a1")
		require.NoError(t, err)
		assert.Equal(t, "accounts", obj.Bucket)
		assert.Equal(t, "a1", obj.Key)
		assert.Equal(t, "trent", obj.Value["login"])
		assert.Equal(t, etag, obj.Etag)
		assert.False(t, obj.ModTime.IsZero())

		require.NoError(t, e.DeleteObject("accounts", "a1"))
		_, err = e.GetObject("accounts", "a1")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("missing object", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.GetObject("accounts", "ghost")
		assert.ErrorIs(t, err, ErrObjectNotFound)
		assert.ErrorIs(t, e.DeleteObject("accounts", "ghost"), ErrObjectNotFound)
	})

	t.Run("missing bucket", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.PutObject("nope", "a1", Document{}, PutOptions{})
		assert.ErrorIs(t, err, ErrBucketNotFound)
	})

	t.Run("etag tracks content", func(t *testing.T) {
		e := newAccountsEngine(t)

		etag1, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		etag2, err := e.PutObject("accounts", "a1", Document{"login": "riley"}, PutOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, etag1, etag2)

		// Same content again yields the same etag.
		etag3, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, etag1, etag3)
	})
}

func TestExpectedEtag(t *testing.T) {
	e := newAccountsEngine(t)

	etag, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
	require.NoError(t, err)

	t.Run("matching etag succeeds", func(t *testing.T) {
		_, err := e.PutObject("accounts", "a1", Document{"login": "riley"},
			PutOptions{ExpectedEtag: etag})
		assert.NoError(t, err)
	})

	t.Run("stale etag conflicts", func(t *testing.T) {
		_, err := e.PutObject("accounts", "a1", Document{"login": "casey"},
			PutOptions{ExpectedEtag: etag})
		var conflict *EtagConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "a1", conflict.Key)
		assert.Equal(t, etag, conflict.Expected)
	})

	t.Run("etag on absent object conflicts", func(t *testing.T) {
		_, err := e.PutObject("accounts", "ghost", Document{"login": "x"},
			PutOptions{ExpectedEtag: "deadbeef00000000"})
		var conflict *EtagConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Empty(t, conflict.Actual)
	})
}

func TestIndexConstraints(t *testing.T) {
	t.Run("type mismatch rejected", func(t *testing.T) {
		e := newAccountsEngine(t)

		_, err := e.PutObject("accounts", "a1", Document{"login": 42}, PutOptions{})
		var violation *ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintFieldType, violation.Kind)
		assert.Equal(t, "login", violation.Field)

		_, err = e.PutObject("accounts", "a1", Document{"uid": "not-a-number"}, PutOptions{})
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "uid", violation.Field)

		_, err = e.PutObject("accounts", "a1", Document{"active": "yes"}, PutOptions{})
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "active", violation.Field)
	})

	t.Run("unique value conflict", func(t *testing.T) {
		e := newAccountsEngine(t)

		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)

		_, err = e.PutObject("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		var violation *ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintUnique, violation.Kind)
		assert.Equal(t, "login", violation.Field)
	})

	t.Run("overwrite keeps own unique value", func(t *testing.T) {
		e := newAccountsEngine(t)

		_, err := e.PutObject("accounts", "a1", Document{"login": "trent", "uid": 1}, PutOptions{})
		require.NoError(t, err)
		_, err = e.PutObject("accounts", "a1", Document{"login": "trent", "uid": 2}, PutOptions{})
		assert.NoError(t, err)
	})

	t.Run("changing unique value frees the old one", func(t *testing.T) {
		e := newAccountsEngine(t)

		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		_, err = e.PutObject("accounts", "a1", Document{"login": "riley"}, PutOptions{})
		require.NoError(t, err)

		// "trent" is free again.
		_, err = e.PutObject("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		assert.NoError(t, err)
	})

	t.Run("delete frees unique value", func(t *testing.T) {
		e := newAccountsEngine(t)

		_, err := e.PutObject("accounts", "a1", Document{"login": "trent"}, PutOptions{})
		require.NoError(t, err)
		require.NoError(t, e.DeleteObject("accounts", "a1"))

		_, err = e.PutObject("accounts", "a2", Document{"login": "trent"}, PutOptions{})
		assert.NoError(t, err)
	})

	t.Run("absent indexed fields are not violations", func(t *testing.T) {
		e := newAccountsEngine(t)
		_, err := e.PutObject("accounts", "a1", Document{"unindexed": "x"}, PutOptions{})
		assert.NoError(t, err)
	})
}
