package inmemdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trezcool/edmm/core/cache"
)

type cacheRepository struct {
	db *cacheTable
}

func NewCacheRepository(db *DB) cache.Repository {
	return &cacheRepository{db: db.cache}
}

func clone(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func (repo *cacheRepository) SavePayload(_ context.Context, key cache.Key, payload json.RawMessage, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	entry := repo.db.table[key]
	entry.Payload = clone(payload)
	entry.UpdatedAt = at
	repo.db.table[key] = entry
	return nil
}

func (repo *cacheRepository) SaveAuxiliary(_ context.Context, key cache.Key, aux json.RawMessage, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	entry := repo.db.table[key]
	entry.Auxiliary = clone(aux)
	entry.UpdatedAt = at
	repo.db.table[key] = entry
	return nil
}

func (repo *cacheRepository) Touch(_ context.Context, key cache.Key, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if entry, ok := repo.db.table[key]; ok && at.After(entry.UpdatedAt) {
		entry.UpdatedAt = at
		repo.db.table[key] = entry
	}
	return nil
}

func (repo *cacheRepository) Load(_ context.Context, key cache.Key) (cache.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	entry, ok := repo.db.table[key]
	if !ok {
		return cache.Entry{}, cache.ErrNotFound
	}
	entry.Payload = clone(entry.Payload)
	entry.Auxiliary = clone(entry.Auxiliary)
	return entry, nil
}

func (repo *cacheRepository) Purge(_ context.Context, userID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for key := range repo.db.table {
		if key.UserID == userID {
			delete(repo.db.table, key)
		}
	}
	return nil
}
