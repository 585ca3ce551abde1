package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
)

var nowFunc = time.Now // mockable

// Store keeps the live sessions of this process in front of a Repository.
// Repository failures are logged and never returned: the in-process copy is authoritative.
type Store struct {
	repo    Repository
	logger  core.Logger
	timeout time.Duration

	mu   sync.RWMutex
	live map[string]Session
}

func NewStore(repo Repository, logger core.Logger, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		repo:    repo,
		logger:  logger,
		timeout: timeout,
		live:    make(map[string]Session),
	}
}

// Upsert overwrites the session of s.DeviceID.
func (s *Store) Upsert(ctx context.Context, sess Session) Session {
	sess.UpdatedAt = nowFunc().UTC()

	s.mu.Lock()
	s.live[sess.DeviceID] = sess
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Upsert(ctx, sess); err != nil {
		s.logger.Error("saving session", errors.Wrap(err, "session store unavailable"), person(sess))
	}
	return sess
}

// Get returns the session of deviceID, if any.
func (s *Store) Get(ctx context.Context, deviceID string) (Session, bool) {
	if deviceID == "" {
		return Session{}, false
	}

	s.mu.RLock()
	sess, ok := s.live[deviceID]
	s.mu.RUnlock()
	if ok {
		return sess, true
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			s.logger.Error("loading session", errors.Wrap(err, "session store unavailable"), core.Person{ID: deviceID})
		}
		return Session{}, false
	}

	s.mu.Lock()
	if cur, ok := s.live[deviceID]; ok { // raced with an Upsert
		sess = cur
	} else {
		s.live[deviceID] = sess
	}
	s.mu.Unlock()
	return sess, true
}

// UpdateToken records a rotated token for deviceID.
func (s *Store) UpdateToken(ctx context.Context, deviceID, token string) {
	if token == "" {
		return
	}
	sess, ok := s.Get(ctx, deviceID)
	if !ok || sess.Token == token {
		return
	}
	sess.Token = token
	s.Upsert(ctx, sess)
}

// Delete forgets the session of deviceID.
func (s *Store) Delete(ctx context.Context, deviceID string) {
	if deviceID == "" {
		return
	}

	s.mu.Lock()
	delete(s.live, deviceID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Delete(ctx, deviceID); err != nil {
		s.logger.Error("deleting session", errors.Wrap(err, "session store unavailable"), core.Person{ID: deviceID})
	}
}

// List returns the persisted sessions.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	return sessions, nil
}

func person(sess Session) core.Person {
	return core.Person{ID: sess.DeviceID, Username: sess.UserID}
}
