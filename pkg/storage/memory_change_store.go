// Package storage provides persistence for change and run records. The
// in-memory implementations back single-process deployments and tests; the
// interfaces live in pkg/domain so alternative backends can be dropped in.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// MemoryChangeStore is an in-memory implementation of domain.ChangeStore.
type MemoryChangeStore struct {
	mu      sync.RWMutex
	changes map[string]*domain.RegulatoryChange
	order   []string
}

// NewMemoryChangeStore creates an empty MemoryChangeStore.
func NewMemoryChangeStore() *MemoryChangeStore {
	return &MemoryChangeStore{
		changes: make(map[string]*domain.RegulatoryChange),
	}
}

// Create persists a new change, rejecting duplicates of the derived id.
func (s *MemoryChangeStore) Create(_ context.Context, change *domain.RegulatoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changes[change.ID]; exists {
		return fmt.Errorf("change %s: %w", change.ID, domain.ErrDuplicateChange)
	}
	s.changes[change.ID] = cloneChange(change)
	s.order = append(s.order, change.ID)
	return nil
}

// Get returns a copy of the change with the given id.
func (s *MemoryChangeStore) Get(_ context.Context, id string) (*domain.RegulatoryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.changes[id]
	if !ok {
		return nil, fmt.Errorf("change %s: %w", id, domain.ErrNotFound)
	}
	return cloneChange(ch), nil
}

// Update replaces the stored record.
func (s *MemoryChangeStore) Update(_ context.Context, change *domain.RegulatoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.changes[change.ID]; !ok {
		return fmt.Errorf("change %s: %w", change.ID, domain.ErrNotFound)
	}
	s.changes[change.ID] = cloneChange(change)
	return nil
}

// List returns changes in insertion order, optionally filtered by state.
func (s *MemoryChangeStore) List(_ context.Context, state domain.ChangeState) ([]*domain.RegulatoryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.RegulatoryChange, 0, len(s.order))
	for _, id := range s.order {
		ch := s.changes[id]
		if state != "" && ch.State != state {
			continue
		}
		out = append(out, cloneChange(ch))
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryChangeStore) Close() error {
	return nil
}

// cloneChange deep-copies a record so callers never share slices with the
// store.
func cloneChange(ch *domain.RegulatoryChange) *domain.RegulatoryChange {
	cp := *ch
	if ch.AffectedArticles != nil {
		cp.AffectedArticles = append([]string(nil), ch.AffectedArticles...)
	}
	if ch.AffectedDomains != nil {
		cp.AffectedDomains = append([]domain.Domain(nil), ch.AffectedDomains...)
	}
	if ch.Actions != nil {
		cp.Actions = append([]domain.RemediationAction(nil), ch.Actions...)
	}
	if ch.ValidatedAt != nil {
		at := *ch.ValidatedAt
		cp.ValidatedAt = &at
	}
	return &cp
}
