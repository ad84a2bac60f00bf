package relay

import (
	"context"
	"sync"

	"relayci/src/contracts"
)

// MemoryRelay keeps artifacts in process memory. Used by tests and by
// single-process runs that do not need the artifact after exit.
type MemoryRelay struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]*contracts.Artifact
	closed    bool
}

// NewMemoryRelay creates an empty MemoryRelay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{artifacts: make(map[string]map[string]*contracts.Artifact)}
}

func (m *MemoryRelay) Store(ctx context.Context, runID string, artifact *contracts.Artifact) error {
	if err := validateKey(runID, artifact.Name); err != nil {
		return &StorageError{Op: "store", RunID: runID, Name: artifact.Name, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	run, ok := m.artifacts[runID]
	if !ok {
		run = make(map[string]*contracts.Artifact)
		m.artifacts[runID] = run
	}
	if _, exists := run[artifact.Name]; exists {
		return alreadyStored(runID, artifact.Name)
	}
	run[artifact.Name] = cloneArtifact(artifact)
	return nil
}

func (m *MemoryRelay) Retrieve(ctx context.Context, runID, name string) (*contracts.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	a, ok := m.artifacts[runID][name]
	if !ok {
		return nil, notFound(runID, name)
	}
	return cloneArtifact(a), nil
}

func (m *MemoryRelay) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
