// Package relay hands stage outputs from the stage that produced them to a
// later stage of the same run, possibly on another node.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relayci/src/contracts"
)

var (
	// ErrArtifactNotFound is returned when nothing was stored for a (run, name).
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrAlreadyStored is returned by a second Store for the same (run, name).
	ErrAlreadyStored = errors.New("artifact already stored")
	// ErrClosed is returned by operations on a closed relay.
	ErrClosed = errors.New("relay is closed")
)

// Relay persists artifacts keyed by run id. Artifacts are write-once per
// (run, name); ownership of the artifact passes to the relay once Store
// returns nil, and callers must not modify it afterwards.
type Relay interface {
	Store(ctx context.Context, runID string, artifact *contracts.Artifact) error
	Retrieve(ctx context.Context, runID, name string) (*contracts.Artifact, error)
	Close() error
}

// StorageError wraps an I/O failure of the underlying storage.
type StorageError struct {
	Op    string
	RunID string
	Name  string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("relay %s %s/%s: %v", e.Op, e.RunID, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func notFound(runID, name string) error {
	return fmt.Errorf("%w: run %s, artifact %s", ErrArtifactNotFound, runID, name)
}

func alreadyStored(runID, name string) error {
	return fmt.Errorf("%w: run %s, artifact %s", ErrAlreadyStored, runID, name)
}

// validateKey rejects keys that cannot be used as storage path components.
func validateKey(runID, name string) error {
	for field, v := range map[string]string{"run id": runID, "artifact name": name} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return fmt.Errorf("invalid %s %q", field, v)
		}
	}
	return nil
}

func cloneArtifact(a *contracts.Artifact) *contracts.Artifact {
	out := &contracts.Artifact{Name: a.Name, Files: make([]contracts.ArtifactFile, len(a.Files))}
	for i, f := range a.Files {
		content := make([]byte, len(f.Content))
		copy(content, f.Content)
		out.Files[i] = contracts.ArtifactFile{Path: f.Path, Mode: f.Mode, Content: content}
	}
	return out
}
