package device

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

// Bundle layout: the selected files live under data/, the transfer
// description in config.json.
const (
	bundleDataDir = "data"
	bundleConfig  = "config.json"
)

// BundleConfig is the config.json of a transfer bundle.
type BundleConfig struct {
	Session   string    `json:"session"`
	Source    string    `json:"source"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// bundleFile is one entry selected for transfer.
type bundleFile struct {
	rel  string
	size int64
	dir  bool
	link string
}

// cleanRel turns a client supplied path into a root-relative one. Cleaning
// against "/" clamps any ".." at the device root.
func cleanRel(p string) string {
	rel := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
	if rel == "" {
		return "."
	}
	return rel
}

// planBundle expands the selection into the files to transfer, parents
// first. Symlinks are kept as links and never followed.
func planBundle(root *os.Root, selected []string) ([]bundleFile, int64, error) {
	var (
		files []bundleFile
		total int64
		seen  = make(map[string]bool)
	)
	fsys := root.FS()
	for _, sel := range selected {
		rel := cleanRel(sel)
		info, err := root.Lstat(rel)
		if err != nil {
			return nil, 0, fmt.Errorf("select %s: %w", sel, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if seen[rel] {
				continue
			}
			link, err := root.Readlink(rel)
			if err != nil {
				return nil, 0, fmt.Errorf("select %s: %w", sel, err)
			}
			seen[rel] = true
			files = append(files, bundleFile{rel: rel, link: link})
			continue
		}
		err = fs.WalkDir(fsys, rel, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == "." || seen[p] {
				return nil
			}
			seen[p] = true
			f := bundleFile{rel: p}
			switch {
			case d.Type()&fs.ModeSymlink != 0:
				if f.link, err = root.Readlink(p); err != nil {
					return err
				}
			case d.IsDir():
				f.dir = true
			case d.Type().IsRegular():
				info, err := d.Info()
				if err != nil {
					return err
				}
				f.size = info.Size()
				total += f.size
			default:
				return nil
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("select %s: %w", sel, err)
		}
	}
	return files, total, nil
}

// writeBundle writes config.json and the planned files under data/.
// progress is called after each regular file with the bytes written so far.
func writeBundle(w io.Writer, root *os.Root, files []bundleFile, cfg BundleConfig, progress func(path string, done int64)) error {
	tw := tar.NewWriter(w)

	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, bundleConfig, cfgJSON); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: bundleDataDir + "/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: cfg.CreatedAt,
	}); err != nil {
		return err
	}

	var done int64
	for _, f := range files {
		name := path.Join(bundleDataDir, f.rel)
		switch {
		case f.link != "":
			err = tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: f.link, Mode: 0o777})
		case f.dir:
			err = tw.WriteHeader(&tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755})
		default:
			var n int64
			n, err = copyIntoTar(tw, root, f, name)
			done += n
			if err == nil && progress != nil {
				progress(f.rel, done)
			}
		}
		if err != nil {
			return fmt.Errorf("bundle %s: %w", f.rel, err)
		}
	}
	return tw.Close()
}

func copyIntoTar(tw *tar.Writer, root *os.Root, f bundleFile, name string) (int64, error) {
	src, err := root.Open(f.rel)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(src)

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: info.Size(), ModTime: info.ModTime(),
	}); err != nil {
		return 0, err
	}
	// A file that changed size since planning fails the tar writer, which
	// is the desired outcome.
	return io.Copy(tw, src)
}

func writeTarFile(tw *tar.Writer, name string, body []byte) error {
	if err := tw.WriteHeader(&tar.Header{
		Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body)),
	}); err != nil {
		return err
	}
	_, err := tw.Write(body)
	return err
}

// filterBundle copies a bundle keeping config.json, directories and the
// data entries whose verdict is CLEAN. Entries without a verdict are
// dropped.
func filterBundle(dst io.Writer, src io.Reader, verdicts map[string]types.Verdict) (kept int, err error) {
	tr := tar.NewReader(src)
	tw := tar.NewWriter(dst)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		if !keepEntry(hdr, verdicts) {
			continue
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return 0, err
			}
			kept++
		}
	}
	return kept, tw.Close()
}

func keepEntry(hdr *tar.Header, verdicts map[string]types.Verdict) bool {
	name := strings.TrimSuffix(path.Clean(hdr.Name), "/")
	if name == bundleConfig || name == bundleDataDir || hdr.Typeflag == tar.TypeDir {
		return true
	}
	rel, ok := strings.CutPrefix(name, bundleDataDir+"/")
	if !ok {
		return false
	}
	return verdicts[rel] == types.VerdictClean
}

// extractData writes the data/ regular files of a bundle under root.
// Links are not recreated on the destination.
func extractData(root *os.Root, src io.Reader) (int, error) {
	tr := tar.NewReader(src)
	var n int
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		rel, ok := strings.CutPrefix(path.Clean(hdr.Name), bundleDataDir+"/")
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(rel, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if dir := path.Dir(rel); dir != "." {
				if err := root.MkdirAll(dir, 0o755); err != nil {
					return n, err
				}
			}
			if err := writeRootFile(root, rel, tr); err != nil {
				return n, fmt.Errorf("write %s: %w", rel, err)
			}
			n++
		}
	}
}

func writeRootFile(root *os.Root, name string, r io.Reader) error {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
