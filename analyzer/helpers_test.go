package analyzer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type entry struct {
	name string
	body string
	link string // symlink target
	dir  bool
}

func buildTar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("write %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// fakeOracle flags files whose base name is in dirty and fails on files
// whose base name is in broken. Scanned base names are recorded.
type fakeOracle struct {
	dirty   map[string]bool
	broken  map[string]bool
	infoErr error
	// gate, when set, blocks every scan until closed.
	gate chan struct{}

	mu      sync.Mutex
	scanned []string
}

func (o *fakeOracle) Scan(ctx context.Context, path string) (Outcome, error) {
	if o.gate != nil {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	name := filepath.Base(path)
	o.mu.Lock()
	o.scanned = append(o.scanned, name)
	o.mu.Unlock()

	switch {
	case o.broken[name]:
		return Outcome{}, &OracleError{Path: path, Err: errors.New("engine crashed")}
	case o.dirty[name]:
		return Outcome{Infected: true, Signature: "Win.Test.EICAR_HDB-1"}, nil
	}
	return Outcome{}, nil
}

func (o *fakeOracle) Info(context.Context) (EngineInfo, error) {
	if o.infoErr != nil {
		return EngineInfo{}, o.infoErr
	}
	return EngineInfo{Name: "ClamAV", Version: "1.0.5", DatabaseVersion: "27400", DatabaseTimestamp: 1725956555}, nil
}

func (o *fakeOracle) scannedNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.scanned...)
}

func (o *fakeOracle) wasScanned(name string) bool {
	return slices.Contains(o.scannedNames(), name)
}
