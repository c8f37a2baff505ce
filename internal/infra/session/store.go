// Package session keeps per-user session state in process memory.
package session

import (
	"context"
	"sync"

	"github.com/alma-care/alma-bfa-go/internal/domain"
)

type slot struct {
	mu      sync.Mutex
	sess    *domain.Session
	deleted bool
}

// Store is an in-memory port.SessionStore. Reads and writes hand out copies;
// Update serializes writers per session while different sessions proceed
// independently.
type Store struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// Create registers a new session, replacing any session with the same ID.
func (s *Store) Create(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return &domain.ErrValidation{Field: "session", Message: "missing id"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.slots[sess.ID]; ok {
		old.mu.Lock()
		old.deleted = true
		old.mu.Unlock()
	}
	s.slots[sess.ID] = &slot{sess: sess.Clone()}
	return nil
}

// Get returns a copy of the session.
func (s *Store) Get(_ context.Context, id string) (*domain.Session, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.deleted {
		return nil, errNoSession
	}
	return sl.sess.Clone(), nil
}

// Update applies fn to a copy of the session while holding that session's
// lock, and stores the copy only if fn succeeds. fn's error is returned as is.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.deleted {
		return nil, errNoSession
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working := sl.sess.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = sl.sess.ID
	sl.sess = working
	return working.Clone(), nil
}

// Delete removes the session. Deleting an unknown session is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	sl, ok := s.slots[id]
	delete(s.slots, id)
	s.mu.Unlock()

	if ok {
		sl.mu.Lock()
		sl.deleted = true
		sl.mu.Unlock()
	}
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

func (s *Store) slot(id string) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[id]
	if !ok {
		return nil, errNoSession
	}
	return sl, nil
}

var errNoSession = &domain.ErrUnauthorized{Message: "no active session"}
