package replay

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node setups.
// It honors the same atomicity contract as the durable implementations.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
	nonces   map[string]struct{}
}

// NewMemoryStore creates an empty in-memory replay store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionState),
		nonces:   make(map[string]struct{}),
	}
}

func nonceID(sessionKey string, nonce uint64) string {
	return fmt.Sprintf("%s:%d", sessionKey, nonce)
}

// Session returns a copy of the stored budget.
func (s *MemoryStore) Session(ctx context.Context, sessionKey string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionKey]
	if !ok {
		return nil, ErrSessionUnknown
	}
	cp := *state
	return &cp, nil
}

// PutSession stores a session budget.
func (s *MemoryStore) PutSession(ctx context.Context, sessionKey string, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.sessions[sessionKey] = &cp
	return nil
}

// ReserveNonce performs the compare-and-set under the store lock.
func (s *MemoryStore) ReserveNonce(ctx context.Context, sessionKey string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := nonceID(sessionKey, nonce)
	if _, seen := s.nonces[id]; seen {
		return ErrNonceReused
	}
	s.nonces[id] = struct{}{}
	return nil
}

// ReleaseNonce removes a reservation.
func (s *MemoryStore) ReleaseNonce(ctx context.Context, sessionKey string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nonces, nonceID(sessionKey, nonce))
	return nil
}

// AddVolume increments used volume if the limit allows it.
func (s *MemoryStore) AddVolume(ctx context.Context, sessionKey string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionKey]
	if !ok {
		return 0, ErrSessionUnknown
	}
	if state.VolumeUsed+amount > state.VolumeLimit {
		return state.VolumeUsed, ErrVolumeExceeded
	}
	state.VolumeUsed += amount
	return state.VolumeUsed, nil
}
