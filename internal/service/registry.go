package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/steward-ai/steward/internal/domain/session"
)

// activeSession pairs a running session with the cancel function of the
// goroutine backing it.
type activeSession struct {
	sess   *session.AgentSession
	cancel context.CancelFunc
}

// SessionRegistry owns the process-wide map of active sessions, keyed by
// user id. At most one active session per user; entries are removed when
// the session reaches a terminal state.
type SessionRegistry struct {
	mu     sync.Mutex
	active map[string]activeSession
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{active: make(map[string]activeSession)}
}

// Put registers a session and its cancel function. Fails when the user
// already has an active session.
func (r *SessionRegistry) Put(sess *session.AgentSession, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[sess.UserID]; exists {
		return fmt.Errorf("user %s already has an active session", sess.UserID)
	}
	r.active[sess.UserID] = activeSession{sess: sess, cancel: cancel}
	return nil
}

// Remove drops the user's entry if it refers to the given session.
func (r *SessionRegistry) Remove(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.active[userID]; ok && a.sess.ID == sessionID {
		delete(r.active, userID)
	}
}

// Get returns the user's active session, or nil.
func (r *SessionRegistry) Get(userID string) *session.AgentSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.active[userID]; ok {
		return a.sess
	}
	return nil
}

// Cancel interrupts the user's active session by cancelling its context,
// which aborts the next suspension point rather than waiting for a flag
// poll. Returns false when no cancellable session exists.
func (r *SessionRegistry) Cancel(userID string) bool {
	r.mu.Lock()
	a, ok := r.active[userID]
	r.mu.Unlock()
	if !ok || a.sess.IsTerminal() {
		return false
	}
	a.cancel()
	return true
}

// Len reports the number of active sessions, for the status API.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
