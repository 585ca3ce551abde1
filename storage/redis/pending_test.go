package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
)

func newStore(t *testing.T, ttl time.Duration) (*PendingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Open(context.Background(), core.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPendingStore(rdb, ttl), mr
}

func TestPendingStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t, time.Minute)
	ch := auth.PendingChallenge{
		DeviceID:       "dev-1",
		CarrierCookies: []string{"GTK=g1", "SRV=s1"},
		GTKCookies:     []string{"GTK=g1"},
		GTKValue:       "g1",
		Identifier:     "alice",
		Secret:         "pw",
	}

	require.NoError(t, store.Put(ctx, "tmp-1", ch))
	assert.True(t, mr.Exists(pendingKey("tmp-1")))
	assert.Equal(t, time.Minute, mr.TTL(pendingKey("tmp-1")))

	got, err := store.Take(ctx, "tmp-1")
	require.NoError(t, err)
	assert.Equal(t, ch.DeviceID, got.DeviceID)
	assert.Equal(t, ch.CarrierCookies, got.CarrierCookies)
	assert.Equal(t, ch.GTKValue, got.GTKValue)
	assert.False(t, got.CreatedAt.IsZero())

	t.Run("single use", func(t *testing.T) {
		_, err := store.Take(ctx, "tmp-1")
		assert.Equal(t, auth.ErrChallengeNotFound, err)
	})

	t.Run("expires", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "tmp-2", ch))
		mr.FastForward(2 * time.Minute)
		_, err := store.Take(ctx, "tmp-2")
		assert.Equal(t, auth.ErrChallengeNotFound, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "tmp-3", ch))
		require.NoError(t, store.Delete(ctx, "tmp-3"))
		_, err := store.Take(ctx, "tmp-3")
		assert.Equal(t, auth.ErrChallengeNotFound, err)
		assert.NoError(t, store.Delete(ctx, "unknown"))
	})
}

func TestPendingStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb, err := Open(ctx, core.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()
	store := NewPendingStore(rdb, 0)
	assert.Equal(t, 10*time.Minute, store.ttl)
	mr.Close()

	assert.Error(t, store.Put(ctx, "tmp-1", auth.PendingChallenge{}))
	_, err = store.Take(ctx, "tmp-1")
	assert.Error(t, err)
	assert.NotEqual(t, auth.ErrChallengeNotFound, err)
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(context.Background(), core.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
