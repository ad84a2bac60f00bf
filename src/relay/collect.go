package relay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"relayci/src/contracts"
)

// maxConcurrentReads bounds the file reads in flight during Collect.
const maxConcurrentReads = 8

// Collect builds the artifact from the declared outputs under baseDir.
// Directories are walked recursively; paths are sorted and de-duplicated,
// and file contents are read concurrently.
func Collect(ctx context.Context, baseDir, name string, outputs []string) (*contracts.Artifact, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("artifact %s has no declared outputs", name)
	}

	var rels []string
	for _, output := range outputs {
		full := filepath.Join(baseDir, filepath.Clean(output))
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}

		if !info.IsDir() {
			rel, err := relPath(baseDir, full)
			if err != nil {
				return nil, err
			}
			rels = append(rels, rel)
			continue
		}

		err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := relPath(baseDir, p)
			if err != nil {
				return err
			}
			rels = append(rels, rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collecting files from %q: %w", output, err)
		}
	}

	sort.Strings(rels)
	rels = dedupSorted(rels)

	files := make([]contracts.ArtifactFile, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, rel := range rels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full := filepath.Join(baseDir, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil {
				return fmt.Errorf("stat %s: %w", rel, err)
			}
			content, err := os.ReadFile(full)
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			files[i] = contracts.ArtifactFile{Path: rel, Mode: info.Mode().Perm(), Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &contracts.Artifact{Name: name, Files: files}, nil
}

// Extract writes the artifact's files under destDir and returns the paths written.
// Paths that would land outside destDir are rejected before anything is written.
func Extract(artifact *contracts.Artifact, destDir string) ([]string, error) {
	targets := make([]string, len(artifact.Files))
	for i, f := range artifact.Files {
		target, err := safeJoin(destDir, f.Path)
		if err != nil {
			return nil, err
		}
		targets[i] = target
	}

	for i, f := range artifact.Files {
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		mode := f.Mode.Perm()
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(targets[i], f.Content, mode); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return targets, nil
}

func relPath(baseDir, full string) (string, error) {
	rel, err := filepath.Rel(baseDir, full)
	if err != nil {
		return "", fmt.Errorf("output %s is not under %s: %w", full, baseDir, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("output %s escapes %s", full, baseDir)
	}
	return rel, nil
}

func safeJoin(destDir, rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if rel == "" || path.IsAbs(rel) || strings.Contains(rel, `\`) || clean != "/"+rel {
		return "", fmt.Errorf("artifact path %q is not a clean relative path", rel)
	}
	return filepath.Join(destDir, filepath.FromSlash(clean[1:])), nil
}

func dedupSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	result := make([]string, 0, len(sorted))
	result = append(result, sorted[0])
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
