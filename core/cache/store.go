package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
)

var nowFunc = time.Now // mockable

// Store fronts a Repository for the sync engine.
// Reads degrade to a miss and writes run in the background: failures are only logged.
// Background writes to one key run one at a time, and a payload write never overwrites
// a payload saved after it.
type Store struct {
	repo    Repository
	logger  core.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	mu   sync.Mutex
	keys map[Key]*keyWrites
}

// keyWrites orders the background writes of one key.
type keyWrites struct {
	mu      sync.Mutex
	applied uint64 // last payload generation written, guarded by mu

	// guarded by Store.mu
	issued  uint64
	pending int
}

func NewStore(repo Repository, logger core.Logger, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{repo: repo, logger: logger, timeout: timeout, keys: make(map[Key]*keyWrites)}
}

// Load returns the entry of key, if any.
func (s *Store) Load(ctx context.Context, key Key) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.repo.Load(ctx, key)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			s.logger.Error("loading cache", errors.Wrap(err, "cache store unavailable"), fields(key))
		}
		return Entry{}, false
	}
	return entry, true
}

// SavePayload replaces the payload of key in the background.
func (s *Store) SavePayload(key Key, payload json.RawMessage) {
	at := nowFunc().UTC()
	s.background("saving cache", key, true, func(ctx context.Context) error {
		return s.repo.SavePayload(ctx, key, payload, at)
	})
}

// Touch refreshes the timestamp of key in the background.
func (s *Store) Touch(key Key) {
	at := nowFunc().UTC()
	s.background("touching cache", key, false, func(ctx context.Context) error {
		return s.repo.Touch(ctx, key, at)
	})
}

// SaveAuxiliary replaces the auxiliary state of key, synchronously.
func (s *Store) SaveAuxiliary(ctx context.Context, key Key, aux json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.SaveAuxiliary(ctx, key, aux, nowFunc().UTC()); err != nil {
		return errors.Wrap(err, "saving auxiliary state")
	}
	return nil
}

// Purge drops every entry of userID.
func (s *Store) Purge(ctx context.Context, userID string) error {
	if err := s.repo.Purge(ctx, userID); err != nil {
		return errors.Wrap(err, "purging cache")
	}
	return nil
}

// Wait blocks until the background writes are done.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) background(op string, key Key, payload bool, fn func(ctx context.Context) error) {
	s.mu.Lock()
	kw, ok := s.keys[key]
	if !ok {
		kw = &keyWrites{}
		s.keys[key] = kw
	}
	kw.pending++
	var gen uint64
	if payload {
		kw.issued++
		gen = kw.issued
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(key, kw)

		kw.mu.Lock()
		defer kw.mu.Unlock()
		if payload && gen <= kw.applied { // superseded by a newer payload
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error(op, errors.Wrap(err, "cache store unavailable"), fields(key))
			return
		}
		if payload {
			kw.applied = gen
		}
	}()
}

func (s *Store) release(key Key, kw *keyWrites) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw.pending--
	if kw.pending == 0 {
		delete(s.keys, key)
	}
}

func fields(key Key) map[string]interface{} {
	return map[string]interface{}{"user": key.UserID, "domain": key.Domain, "subKey": key.SubKey}
}
