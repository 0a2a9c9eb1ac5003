package memory

import (
	"context"
	"sync"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*storage.Session
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]*storage.Session)}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Create adds a new session.
func (s *SessionStore) Create(_ context.Context, sess *storage.Session) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[sess.SessionID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *sess
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.data[sess.SessionID] = &cp
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(_ context.Context, sessionID string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sess
	cp.ResultJSON = append([]byte(nil), sess.ResultJSON...)
	return &cp, nil
}

// UpdateStatus sets status and progress. A session already marked
// cancelled keeps that status: progress updates racing a cancel must
// not revive the run.
func (s *SessionStore) UpdateStatus(_ context.Context, sessionID, status string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.Status != domain.StatusCancelled {
		sess.Status = status
	}
	sess.Progress = progress
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// StoreResult attaches the final result payload verbatim.
func (s *SessionStore) StoreResult(_ context.Context, sessionID, status string, resultJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	sess.Status = status
	sess.ResultJSON = append([]byte(nil), resultJSON...)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}
