package cache_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/core/cache"
	inmemdb "github.com/trezcool/edmm/storage/database/inmem"
	"github.com/trezcool/edmm/testutil"
)

type brokenRepository struct{}

var errDown = errors.New("connection refused")

func (brokenRepository) SavePayload(context.Context, cache.Key, json.RawMessage, time.Time) error {
	return errDown
}
func (brokenRepository) SaveAuxiliary(context.Context, cache.Key, json.RawMessage, time.Time) error {
	return errDown
}
func (brokenRepository) Touch(context.Context, cache.Key, time.Time) error { return errDown }
func (brokenRepository) Load(context.Context, cache.Key) (cache.Entry, error) {
	return cache.Entry{}, errDown
}
func (brokenRepository) Purge(context.Context, string) error { return errDown }

// slowRepository holds its first payload write until release is closed.
type slowRepository struct {
	cache.Repository
	once    sync.Once
	release chan struct{}
}

func (repo *slowRepository) SavePayload(ctx context.Context, key cache.Key, payload json.RawMessage, at time.Time) error {
	repo.once.Do(func() { <-repo.release })
	return repo.Repository.SavePayload(ctx, key, payload, at)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewLogger()
	store := cache.NewStore(inmemdb.NewCacheRepository(inmemdb.Open()), logger, 0)
	key := cache.Key{UserID: "42", Domain: cache.DomainGrades, SubKey: "2023-2024"}

	_, ok := store.Load(ctx, key)
	assert.False(t, ok)

	store.SavePayload(key, json.RawMessage(`{"notes":[]}`))
	store.Wait()

	entry, ok := store.Load(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `{"notes":[]}`, string(entry.Payload))
	first := entry.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	store.Touch(key)
	store.Wait()
	entry, ok = store.Load(ctx, key)
	require.True(t, ok)
	assert.True(t, entry.UpdatedAt.After(first))
	assert.Equal(t, `{"notes":[]}`, string(entry.Payload))

	require.NoError(t, store.SaveAuxiliary(ctx, key, json.RawMessage(`{"a":true}`)))
	entry, _ = store.Load(ctx, key)
	assert.Equal(t, `{"notes":[]}`, string(entry.Payload))
	assert.Equal(t, `{"a":true}`, string(entry.Auxiliary))

	require.NoError(t, store.Purge(ctx, "42"))
	_, ok = store.Load(ctx, key)
	assert.False(t, ok)

	assert.Empty(t, logger.Entries("error"))
}

func TestStore_BackendUnavailable(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewLogger()
	store := cache.NewStore(brokenRepository{}, logger, 0)
	key := cache.Key{UserID: "42", Domain: cache.DomainHomework}

	_, ok := store.Load(ctx, key)
	assert.False(t, ok)
	assert.True(t, logger.Logged("error", "loading cache"))

	store.SavePayload(key, json.RawMessage(`[]`))
	store.Touch(key)
	store.Wait()
	assert.True(t, logger.Logged("error", "saving cache"))
	assert.True(t, logger.Logged("error", "touching cache"))

	assert.Error(t, store.SaveAuxiliary(ctx, key, json.RawMessage(`{}`)))
	assert.Error(t, store.Purge(ctx, "42"))
}

func TestStore_SavePayloadKeepsNewest(t *testing.T) {
	ctx := context.Background()
	repo := &slowRepository{
		Repository: inmemdb.NewCacheRepository(inmemdb.Open()),
		release:    make(chan struct{}),
	}
	store := cache.NewStore(repo, testutil.NewLogger(), 0)
	key := cache.Key{UserID: "42", Domain: cache.DomainGrades, SubKey: "2023-2024"}
	other := cache.Key{UserID: "42", Domain: cache.DomainSchedule, SubKey: "2024-03-04"}

	store.SavePayload(key, json.RawMessage(`{"v":1}`))
	time.Sleep(5 * time.Millisecond)
	store.SavePayload(key, json.RawMessage(`{"v":2}`))
	close(repo.release)
	store.Wait()

	entry, ok := store.Load(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `{"v":2}`, string(entry.Payload))

	// writes resume normally once the queue of the key drained
	store.SavePayload(key, json.RawMessage(`{"v":3}`))
	store.SavePayload(other, json.RawMessage(`{"w":1}`))
	store.Wait()
	entry, _ = store.Load(ctx, key)
	assert.Equal(t, `{"v":3}`, string(entry.Payload))
	entry, _ = store.Load(ctx, other)
	assert.Equal(t, `{"w":1}`, string(entry.Payload))
}
