package app

import (
	"context"
	"sync"
)

// SessionFactory builds an idle LedgerSession for a user.
type SessionFactory func(userID string) *LedgerSession

// LedgerRegistry holds the single active LedgerSession of each signed-in
// user. Sign-in acquires, sign-out releases.
type LedgerRegistry struct {
	factory SessionFactory

	mu       sync.Mutex
	sessions map[string]*LedgerSession
}

// NewLedgerRegistry creates an empty registry.
func NewLedgerRegistry(factory SessionFactory) *LedgerRegistry {
	return &LedgerRegistry{factory: factory, sessions: make(map[string]*LedgerSession)}
}

// Acquire returns the running session for userID, starting one if needed.
func (r *LedgerRegistry) Acquire(ctx context.Context, userID string) (*LedgerSession, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; ok {
		return s, nil
	}
	s := r.factory(userID)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	r.sessions[userID] = s
	return s, nil
}

// Get returns the running session for userID, if any.
func (r *LedgerRegistry) Get(userID string) (*LedgerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Release stops and forgets the session for userID.
func (r *LedgerRegistry) Release(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// Close stops every session.
func (r *LedgerRegistry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*LedgerSession)
	r.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}
