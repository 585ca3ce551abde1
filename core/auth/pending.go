package auth

import (
	"context"
	"sync"
	"time"
)

var nowFunc = time.Now // mockable

// PendingChallenge is what a double authentication in progress needs to complete.
type PendingChallenge struct {
	DeviceID       string    `json:"deviceId"`
	CarrierCookies []string  `json:"carrierCookies"`
	GTKCookies     []string  `json:"gtkCookies"`
	GTKValue       string    `json:"gtkValue"`
	Identifier     string    `json:"identifier"`
	Secret         string    `json:"secret"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PendingStore keeps pending challenges keyed by their intermediate token.
// Take is single-use: a taken challenge is gone.
type PendingStore interface {
	Put(ctx context.Context, token string, ch PendingChallenge) error
	Take(ctx context.Context, token string) (PendingChallenge, error)
	Delete(ctx context.Context, token string) error
}

type pendingEntry struct {
	ch        PendingChallenge
	expiresAt time.Time
}

// MemoryPendingStore is an in-process PendingStore evicting abandoned challenges after a TTL.
type MemoryPendingStore struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]pendingEntry
	stop    chan struct{}
	once    sync.Once
}

var _ PendingStore = (*MemoryPendingStore)(nil)

// NewMemoryPendingStore returns a store evicting entries older than ttl.
// A janitor sweeps expired entries every ttl until Close is called.
func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &MemoryPendingStore{
		ttl:     ttl,
		entries: make(map[string]pendingEntry),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryPendingStore) Put(_ context.Context, token string, ch PendingChallenge) error {
	now := nowFunc()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = pendingEntry{ch: ch, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryPendingStore) Take(_ context.Context, token string) (PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return PendingChallenge{}, ErrChallengeNotFound
	}
	delete(s.entries, token)
	if !nowFunc().Before(e.expiresAt) {
		return PendingChallenge{}, ErrChallengeNotFound
	}
	return e.ch, nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
	return nil
}

// Len returns the number of entries, expired or not.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries.
func (s *MemoryPendingStore) Sweep() {
	now := nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, tok)
		}
	}
}

func (s *MemoryPendingStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryPendingStore) janitor() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}
