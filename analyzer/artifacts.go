package analyzer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/justapithecus/airlock/iox"
)

// ErrInvalidName is returned for ids that cannot be used as a path element.
var ErrInvalidName = errors.New("invalid name")

// artifactExts is the artifact lookup order.
var artifactExts = []string{".tar", ".tar.gz", ".gz"}

// gzipTrailerSize is the length of the ISIZE field ending a gzip member.
const gzipTrailerSize = 4

// Artifact is a stored bundle ready for download.
type Artifact struct {
	Path string
	// Compressed is true when the stored file is gzip.
	Compressed bool
}

func safeName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// StoreBundle saves body as <workdir>/<id>/<bundle>.tar under a fresh
// bundle id and returns that id.
func (s *Service) StoreBundle(_ context.Context, id string, body io.Reader) (string, error) {
	if err := safeName(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.cfg.WorkDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create bundle directory: %w", err)
	}
	bundle := NewID()
	n, err := writeFile(filepath.Join(dir, bundle+".tar"), body)
	if err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	s.logger.Info("bundle stored", map[string]any{"id": id, "bundle": bundle, "bytes": n})
	return bundle, nil
}

// FindArtifact looks up <workdir>/<id>/<bundle> with the .tar, .tar.gz and
// .gz extensions in that order.
func (s *Service) FindArtifact(id, bundle string) (Artifact, error) {
	if err := safeName(id); err != nil {
		return Artifact{}, err
	}
	if err := safeName(bundle); err != nil {
		return Artifact{}, err
	}
	base := filepath.Join(s.cfg.WorkDir, id, bundle)
	for _, ext := range artifactExts {
		p := base + ext
		st, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Artifact{}, err
		}
		if !st.Mode().IsRegular() {
			continue
		}
		return Artifact{Path: p, Compressed: strings.HasSuffix(ext, "gz")}, nil
	}
	return Artifact{}, ErrNotFound
}

// UncompressedSize returns the artifact's content size. For gzip artifacts
// it is the ISIZE trailer, which wraps modulo 4 GiB.
func UncompressedSize(a Artifact) (int64, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(f)

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if !a.Compressed {
		return st.Size(), nil
	}
	if st.Size() < gzipTrailerSize {
		return 0, fmt.Errorf("%s: too short for a gzip trailer", filepath.Base(a.Path))
	}
	var trailer [gzipTrailerSize]byte
	if _, err := f.ReadAt(trailer[:], st.Size()-gzipTrailerSize); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint32(trailer[:])), nil
}
