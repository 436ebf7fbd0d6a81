// Package memory is an in-process passkit.UserStore for tests, development
// servers and load tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/google/uuid"
)

// Store keeps users in maps guarded by a mutex. Records are copied in and out
// so callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*passkit.UserRecord
	byEmail map[string]string
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*passkit.UserRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*passkit.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, passkit.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*passkit.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, passkit.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *Store) CreateUser(_ context.Context, user *passkit.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return passkit.ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	s.byID[user.ID] = clone(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Store) SaveUser(_ context.Context, user *passkit.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[user.ID]
	if !ok {
		return passkit.ErrUserNotFound
	}
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return passkit.ErrEmailTaken
	}
	if current.Email != user.Email {
		delete(s.byEmail, current.Email)
		s.byEmail[user.Email] = user.ID
	}
	s.byID[user.ID] = clone(user)
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clone(u *passkit.UserRecord) *passkit.UserRecord {
	c := *u
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		c.EmailVerifiedAt = &t
	}
	return &c
}
