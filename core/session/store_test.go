package session_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/core/session"
	inmemdb "github.com/trezcool/edmm/storage/database/inmem"
	"github.com/trezcool/edmm/testutil"
)

var errDown = errors.New("connection refused")

type brokenRepository struct{}

func (brokenRepository) Upsert(context.Context, session.Session) error { return errDown }
func (brokenRepository) Get(context.Context, string) (session.Session, error) {
	return session.Session{}, errDown
}
func (brokenRepository) Delete(context.Context, string) error { return errDown }
func (brokenRepository) List(context.Context) ([]session.Session, error) {
	return nil, errDown
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.Open()
	repo := inmemdb.NewSessionRepository(db)
	logger := testutil.NewLogger()
	store := session.NewStore(repo, logger, 0)

	_, ok := store.Get(ctx, "dev-1")
	assert.False(t, ok)

	saved := store.Upsert(ctx, session.Session{
		DeviceID:  "dev-1",
		UserID:    "42",
		Token:     "T1",
		FirstName: "Alice",
		Account:   json.RawMessage(`{"id":42}`),
	})
	assert.False(t, saved.UpdatedAt.IsZero())

	got, ok := store.Get(ctx, "dev-1")
	require.True(t, ok)
	assert.Equal(t, saved, got)

	t.Run("survives a restart", func(t *testing.T) {
		fresh := session.NewStore(repo, logger, 0)
		got, ok := fresh.Get(ctx, "dev-1")
		require.True(t, ok)
		assert.Equal(t, "42", got.UserID)
		assert.Equal(t, "T1", got.Token)
	})

	t.Run("update token", func(t *testing.T) {
		store.UpdateToken(ctx, "dev-1", "T2")
		got, ok := store.Get(ctx, "dev-1")
		require.True(t, ok)
		assert.Equal(t, "T2", got.Token)
		assert.Equal(t, "Alice", got.FirstName)

		persisted, err := repo.Get(ctx, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, "T2", persisted.Token)

		// unknown devices and empty tokens are ignored
		store.UpdateToken(ctx, "dev-x", "T3")
		_, ok = store.Get(ctx, "dev-x")
		assert.False(t, ok)
		store.UpdateToken(ctx, "dev-1", "")
		got, _ = store.Get(ctx, "dev-1")
		assert.Equal(t, "T2", got.Token)
	})

	t.Run("list", func(t *testing.T) {
		sessions, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "dev-1", sessions[0].DeviceID)
	})

	t.Run("delete", func(t *testing.T) {
		store.Delete(ctx, "dev-1")
		_, ok := store.Get(ctx, "dev-1")
		assert.False(t, ok)
		_, err := repo.Get(ctx, "dev-1")
		assert.Equal(t, session.ErrNotFound, err)
	})

	assert.Empty(t, logger.Entries("error"))
}

func TestStore_BackendUnavailable(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewLogger()
	store := session.NewStore(brokenRepository{}, logger, 0)

	store.Upsert(ctx, session.Session{DeviceID: "dev-1", UserID: "42", Token: "T1"})
	assert.True(t, logger.Logged("error", "saving session"))

	got, ok := store.Get(ctx, "dev-1")
	require.True(t, ok, "the in-process layer is authoritative")
	assert.Equal(t, "T1", got.Token)

	_, ok = store.Get(ctx, "dev-2")
	assert.False(t, ok)
	assert.True(t, logger.Logged("error", "loading session"))

	store.Delete(ctx, "dev-1")
	_, ok = store.Get(ctx, "dev-1")
	assert.False(t, ok)
	assert.True(t, logger.Logged("error", "deleting session"))

	_, err := store.List(ctx)
	assert.Error(t, err)
}
