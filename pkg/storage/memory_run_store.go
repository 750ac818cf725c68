package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

// DefaultRunRetention caps how many monitoring runs the memory store keeps.
const DefaultRunRetention = 500

// MemoryRunStore is an in-memory, append-only implementation of
// domain.RunStore with a bounded retention window.
type MemoryRunStore struct {
	mu        sync.RWMutex
	runs      map[string]*domain.MonitoringRun
	order     []string
	retention int
}

// NewMemoryRunStore creates a run store keeping at most retention runs
// (<=0 uses DefaultRunRetention).
func NewMemoryRunStore(retention int) *MemoryRunStore {
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	return &MemoryRunStore{
		runs:      make(map[string]*domain.MonitoringRun),
		retention: retention,
	}
}

// Append stores a closed run. Runs are immutable once appended.
func (s *MemoryRunStore) Append(_ context.Context, run *domain.MonitoringRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already recorded", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)

	for len(s.order) > s.retention {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
	return nil
}

// Get returns the run with the given id.
func (s *MemoryRunStore) Get(_ context.Context, id string) (*domain.MonitoringRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return cloneRun(run), nil
}

// Recent returns up to limit runs, newest first.
func (s *MemoryRunStore) Recent(_ context.Context, limit int) ([]*domain.MonitoringRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*domain.MonitoringRun, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRun(s.runs[s.order[i]]))
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryRunStore) Close() error {
	return nil
}

func cloneRun(run *domain.MonitoringRun) *domain.MonitoringRun {
	cp := *run
	if run.Errors != nil {
		cp.Errors = append([]string(nil), run.Errors...)
	}
	return &cp
}
