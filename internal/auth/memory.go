package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
)

// MemoryUserStore implements UserStore in process memory.
//
// Both indexes live under one RWMutex: a writer swaps them together, so any
// reader sees either the state before a mutation or the state after it.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

var _ UserStore = (*MemoryUserStore)(nil)

// NewMemoryUserStore creates an empty store. A nil clock selects time.Now.
func NewMemoryUserStore(now func() time.Time) *MemoryUserStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     now,
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	if u == nil {
		return ErrInvalidInput
	}
	c := u.Clone()
	if err := validateNewUser(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byEmail[c.Email]; ok {
		return ErrAlreadyExists
	}
	s.byID[c.ID] = c
	s.byEmail[c.Email] = c.ID
	*u = *c.Clone()
	return nil
}

func (s *MemoryUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := applyUpdate(next, upd); err != nil {
		return nil, err
	}
	if next.Email != current.Email {
		if owner, taken := s.byEmail[next.Email]; taken && owner != id {
			return nil, ErrAlreadyExists
		}
		delete(s.byEmail, current.Email)
		s.byEmail[next.Email] = id
	}
	next.UpdatedAt = s.now().UTC()
	s.byID[id] = next
	return next.Clone(), nil
}

func (s *MemoryUserStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

func (s *MemoryUserStore) HasAdmin(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	out := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryUserStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}
