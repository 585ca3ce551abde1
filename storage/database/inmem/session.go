package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/edmm/core/session"
)

type sessionRepository struct {
	db *sessionTable
}

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) Upsert(_ context.Context, s session.Session) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	repo.db.table[s.DeviceID] = s
	return nil
}

func (repo *sessionRepository) Get(_ context.Context, deviceID string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	if s, ok := repo.db.table[deviceID]; ok {
		return s, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) Delete(_ context.Context, deviceID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.table, deviceID)
	return nil
}

func (repo *sessionRepository) List(_ context.Context) ([]session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	sessions := make([]session.Session, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, nil
}
