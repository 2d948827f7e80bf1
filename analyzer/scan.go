package analyzer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/justapithecus/airlock/types"
)

// bundleDataDir and bundleConfig mark a transfer bundle: when both are at
// the unpack root, only the data directory is scanned.
const (
	bundleDataDir = "data"
	bundleConfig  = "config.json"
)

// scanRoot returns the directory to walk for an unpacked bundle.
func scanRoot(unpacked string) string {
	data, err := os.Lstat(filepath.Join(unpacked, bundleDataDir))
	if err != nil || !data.IsDir() {
		return unpacked
	}
	cfg, err := os.Lstat(filepath.Join(unpacked, bundleConfig))
	if err != nil || !cfg.Mode().IsRegular() {
		return unpacked
	}
	return filepath.Join(unpacked, bundleDataDir)
}

// verdictFunc receives one verdict per file; path is slash-separated and
// relative to the scan root. signature is set for infected files.
type verdictFunc func(path string, verdict types.Verdict, signature string, scanErr error)

// walkTree scans every file under root.
//
// Symlinks are reported clean without being followed or scanned.
// Directories recurse. Regular files go to the oracle; an oracle error
// is reported dirty.
func walkTree(ctx context.Context, root string, oracle Oracle, report verdictFunc) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			report(rel, types.VerdictClean, "", nil)
		case d.IsDir():
		case d.Type().IsRegular():
			out, scanErr := oracle.Scan(ctx, p)
			switch {
			case scanErr != nil:
				report(rel, types.VerdictDirty, "", scanErr)
			case out.Infected:
				report(rel, types.VerdictDirty, out.Signature, nil)
			default:
				report(rel, types.VerdictClean, "", nil)
			}
		}
		return nil
	})
}
