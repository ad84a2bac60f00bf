package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"relayci/src/contracts"
)

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and local mode.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*contracts.RunStatus
	steps map[string][]contracts.StepResult // runID -> results in save order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*contracts.RunStatus),
		steps: make(map[string][]contracts.StepResult),
	}
}

// CreateRun inserts a run record if it does not exist yet.
func (s *MemoryStore) CreateRun(ctx context.Context, run *contracts.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return nil
	}
	runCopy := *run
	s.runs[run.RunID] = &runCopy
	return nil
}

// UpdateRun replaces an existing run record.
func (s *MemoryStore) UpdateRun(ctx context.Context, run *contracts.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.RunID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.RunID)
	}
	runCopy := *run
	runCopy.CreatedAt = existing.CreatedAt
	s.runs[run.RunID] = &runCopy
	return nil
}

// GetRun returns a copy of the run record.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*contracts.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	// Return a copy
	runCopy := *run
	return &runCopy, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all runs.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]contracts.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]contracts.RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveStepResult records or replaces a step result.
func (s *MemoryStore) SaveStepResult(ctx context.Context, result *contracts.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[result.RunID]; !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, result.RunID)
	}

	results := s.steps[result.RunID]
	for i, existing := range results {
		if existing.Stage == result.Stage && existing.Index == result.Index {
			results[i] = *result
			return nil
		}
	}
	s.steps[result.RunID] = append(results, *result)
	return nil
}

// GetStepResults returns a copy of the run's step results.
func (s *MemoryStore) GetStepResults(ctx context.Context, runID string) ([]contracts.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	results := make([]contracts.StepResult, len(s.steps[runID]))
	copy(results, s.steps[runID])
	return results, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}
