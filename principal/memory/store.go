// Package memory is an in-process principal.Store for tests, the load
// generator and single-node development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/panelAuth/principal"
	"github.com/google/uuid"
)

type Store struct {
	mu         sync.RWMutex
	byID       map[string]*principal.Principal
	byUsername map[string]string
}

func New() *Store {
	return &Store{
		byID:       make(map[string]*principal.Principal),
		byUsername: make(map[string]string),
	}
}

// Put inserts or replaces p. An empty ID is filled with a random UUID,
// which is returned.
func (s *Store) Put(p principal.Principal) string {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = principal.StatusActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[p.ID]; ok {
		delete(s.byUsername, key(old.Username))
	}
	cp := p
	s.byID[p.ID] = &cp
	s.byUsername[key(p.Username)] = p.ID
	return p.ID
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*principal.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[key(username)]
	if !ok {
		return nil, principal.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*principal.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, principal.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return principal.ErrNotFound
	}
	p.CredentialHash = hash
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status principal.Status, lockedUntil time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return principal.ErrNotFound
	}
	p.Status = status
	if status == principal.StatusLocked {
		p.LockedUntil = lockedUntil
	} else {
		p.LockedUntil = time.Time{}
	}
	return nil
}

func key(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

var _ principal.Store = (*Store)(nil)
