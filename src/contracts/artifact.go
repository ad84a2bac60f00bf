package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"sort"
)

// ArtifactFile is a single file inside an artifact. Path is slash-separated
// and relative to the producing stage's working directory.
type ArtifactFile struct {
	Path    string      `json:"path"`
	Mode    fs.FileMode `json:"mode"`
	Content []byte      `json:"-"`
}

// Artifact is a named set of files produced by one stage for another.
// Files are kept sorted by Path.
type Artifact struct {
	Name  string         `json:"name"`
	Files []ArtifactFile `json:"files"`
}

// Paths returns the file paths in the artifact, in order.
func (a *Artifact) Paths() []string {
	paths := make([]string, 0, len(a.Files))
	for _, f := range a.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Size returns the total content size in bytes.
func (a *Artifact) Size() int64 {
	var n int64
	for _, f := range a.Files {
		n += int64(len(f.Content))
	}
	return n
}

// Digest returns a SHA-256 over paths and contents, used to confirm that a
// consumer received exactly what the producer stored.
func (a *Artifact) Digest() string {
	files := make([]ArtifactFile, len(a.Files))
	copy(files, a.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		sum := sha256.Sum256(f.Content)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
