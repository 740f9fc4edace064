package auth

import (
	"context"
	"sync"
)

// MemoryTokenStore keeps the token pair in process memory. It is not durable and exists
// for tests and for one-shot embedders that manage persistence themselves.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	pair TokenPair
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) AccessToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access, nil
}

func (s *MemoryTokenStore) RefreshToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh, nil
}

func (s *MemoryTokenStore) SaveTokens(_ context.Context, access, refresh string) error {
	if err := checkPair(access, refresh); err != nil {
		return err
	}
	s.mu.Lock()
	s.pair = TokenPair{Access: access, Refresh: refresh}
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) RemoveTokens(context.Context) error {
	s.mu.Lock()
	s.pair = TokenPair{}
	s.mu.Unlock()
	return nil
}
