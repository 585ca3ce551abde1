package auth

import "sync"

// CredentialStore keeps the credentials of each device for non-interactive re-login.
type CredentialStore interface {
	Put(deviceID string, creds Credentials)
	Get(deviceID string) (Credentials, bool)
	Delete(deviceID string)
}

// MemoryCredentialStore never persists credentials: they live as long as the process.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]Credentials)}
}

func (s *MemoryCredentialStore) Put(deviceID string, creds Credentials) {
	creds.FA = append([]FAPair(nil), creds.FA...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[deviceID] = creds
}

func (s *MemoryCredentialStore) Get(deviceID string) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[deviceID]
	return creds, ok
}

func (s *MemoryCredentialStore) Delete(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, deviceID)
}
