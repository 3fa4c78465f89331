package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-flashcall-auth/internal/domain"
)

// Error Contract:
// - ErrNotFound when the session does not exist (never created, consumed, or swept)
// - ErrExpired when TakeIfValid finds a session older than the TTL; the record is removed
// - ErrAttemptsExceeded when RecordFailedAttempt reaches the limit; the record is removed
// - ErrConflict when Put is called with an id that is already live

// SessionStore keeps verification sessions in process memory. Every operation
// runs under one mutex, so concurrent TakeIfValid calls on the same id cannot
// both succeed.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.VerificationSession
	ttl      time.Duration
}

// NewSessionStore constructs an empty store whose sessions expire after ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.VerificationSession),
		ttl:      ttl,
	}
}

func (s *SessionStore) Put(_ context.Context, sess *domain.VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.SessionID]; ok {
		return fmt.Errorf("session %s already exists: %w", sess.SessionID, domain.ErrConflict)
	}
	cp := *sess
	s.sessions[sess.SessionID] = &cp
	return nil
}

// Get returns a copy of the stored session. Expired sessions are still
// returned; the caller decides what expiry means.
func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.VerificationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

// TakeIfValid removes the session and returns it if it has not expired at now.
// The session is removed in both cases, so a second call yields ErrNotFound.
func (s *SessionStore) TakeIfValid(_ context.Context, sessionID string, now time.Time) (*domain.VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	delete(s.sessions, sessionID)
	if sess.IsExpired(now, s.ttl) {
		return nil, fmt.Errorf("session %s expired: %w", sessionID, domain.ErrExpired)
	}
	return sess, nil
}

// RecordFailedAttempt increments the failure counter and returns the new count.
// When maxAttempts > 0 and the count reaches it, the session is removed.
func (s *SessionStore) RecordFailedAttempt(_ context.Context, sessionID string, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	sess.Attempts++
	if maxAttempts > 0 && sess.Attempts >= maxAttempts {
		delete(s.sessions, sessionID)
		return sess.Attempts, fmt.Errorf("session %s: %w", sessionID, domain.ErrAttemptsExceeded)
	}
	return sess.Attempts, nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// SweepExpired removes every session whose age exceeds the TTL at now.
// The time parameter is injected for testability (no hidden time.Now() calls).
func (s *SessionStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(now, s.ttl) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live records, expired-but-unswept included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
