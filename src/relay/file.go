package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"relayci/src/contracts"
)

const archiveExt = ".tar.zst"

// FileRelay stores each artifact as <dir>/<runID>/<name>.tar.zst. It is shared
// between processes that see the same directory.
type FileRelay struct {
	dir string
	mu  sync.Mutex
}

// NewFileRelay creates the root directory if needed.
func NewFileRelay(dir string) (*FileRelay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	return &FileRelay{dir: dir}, nil
}

// Dir returns the root directory.
func (f *FileRelay) Dir() string {
	return f.dir
}

func (f *FileRelay) path(runID, name string) string {
	return filepath.Join(f.dir, runID, name+archiveExt)
}

// Store writes the archive to a temporary file in the run directory and renames
// it into place, so readers never observe a partial archive.
func (f *FileRelay) Store(ctx context.Context, runID string, artifact *contracts.Artifact) error {
	name := artifact.Name
	if err := validateKey(runID, name); err != nil {
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	final := f.path(runID, name)
	if _, err := os.Stat(final); err == nil {
		return alreadyStored(runID, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}

	runDir := filepath.Dir(final)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}

	tmp, err := os.CreateTemp(runDir, "."+name+"-*.tmp")
	if err != nil {
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if err := encodeArchive(tmp, artifact); err != nil {
		cleanup()
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: err}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "store", RunID: runID, Name: name, Err: fmt.Errorf("rename into place: %w", err)}
	}
	return nil
}

func (f *FileRelay) Retrieve(ctx context.Context, runID, name string) (*contracts.Artifact, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, &StorageError{Op: "retrieve", RunID: runID, Name: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path(runID, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(runID, name)
		}
		return nil, &StorageError{Op: "retrieve", RunID: runID, Name: name, Err: err}
	}
	defer file.Close()

	artifact, err := decodeArchive(file, name)
	if err != nil {
		return nil, &StorageError{Op: "retrieve", RunID: runID, Name: name, Err: err}
	}
	return artifact, nil
}

// Close is a no-op; archives stay on disk.
func (f *FileRelay) Close() error {
	return nil
}
