package relay

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"relayci/src/contracts"
)

// archiveEpoch is written as every entry's mtime so identical artifacts encode
// to identical bytes.
var archiveEpoch = time.Unix(0, 0).UTC()

// encodeArchive writes the artifact as a zstd-compressed tar stream.
func encodeArchive(w io.Writer, a *contracts.Artifact) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, f := range a.Files {
		mode := int64(f.Mode.Perm())
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     f.Path,
			Mode:     mode,
			Size:     int64(len(f.Content)),
			ModTime:  archiveEpoch,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			zw.Close()
			return fmt.Errorf("write header for %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			zw.Close()
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("close tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd stream: %w", err)
	}
	return nil
}

// encodeArchiveBytes is encodeArchive into memory.
func encodeArchiveBytes(a *contracts.Artifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeArchive(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeArchive reads an archive written by encodeArchive.
func decodeArchive(r io.Reader, name string) (*contracts.Artifact, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	artifact := &contracts.Artifact{Name: name, Files: []contracts.ArtifactFile{}}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, err := safeJoin(".", hdr.Name); err != nil {
			return nil, err
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		artifact.Files = append(artifact.Files, contracts.ArtifactFile{
			Path:    hdr.Name,
			Mode:    hdr.FileInfo().Mode().Perm(),
			Content: content,
		})
	}
	return artifact, nil
}

func decodeArchiveBytes(data []byte, name string) (*contracts.Artifact, error) {
	return decodeArchive(bytes.NewReader(data), name)
}
