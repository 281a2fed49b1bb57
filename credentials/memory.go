package credentials

import "sync"

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps credentials in process memory. Used by tests and by
// callers that opt out of persistence.
type MemoryStore struct {
	mu    sync.RWMutex
	pair  TokenPair
	ok    bool
	email string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (TokenPair, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.ok, nil
}

func (s *MemoryStore) Save(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.ok = pair.Valid()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	s.ok = false
	return nil
}

func (s *MemoryStore) RememberEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	return nil
}

func (s *MemoryStore) RememberedEmail() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email, nil
}
