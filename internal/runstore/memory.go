package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
)

// MemoryStore is the in-process Store implementation. Safe for concurrent
// use: the HTTP API reads run records while the engine mutates them.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// NewRun builds a fresh running record with a generated id.
func NewRun(kind Kind) *Run {
	return &Run{
		ID:                uuid.NewString(),
		Kind:              kind,
		Status:            StatusRunning,
		ActiveDelegations: make(map[actor.Kind]int),
		StartedAt:         time.Now().UTC(),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", id, ErrFinalized)
	}
	mutate(run)
	return nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, id string, status Status, outcome, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", id, ErrFinalized)
	}

	now := time.Now().UTC()
	run.Status = status
	run.Outcome = outcome
	run.Error = errText
	run.FinishedAt = &now
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, status Status) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
