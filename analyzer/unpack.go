package analyzer

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/justapithecus/airlock/iox"
)

// gzipMagic is the leading signature of a gzip member.
var gzipMagic = []byte{0x1f, 0x8b}

// UnpackError reports a bundle that could not be unpacked.
type UnpackError struct {
	Entry string
	Err   error
}

func (e *UnpackError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("unpack %s: %v", e.Entry, e.Err)
	}
	return fmt.Sprintf("unpack: %v", e.Err)
}

func (e *UnpackError) Unwrap() error {
	return e.Err
}

// errEscape is wrapped when an entry would land outside the unpack root.
var errEscape = errors.New("entry escapes unpack root")

// Unpack extracts a tar stream, optionally gzip-compressed, into dest.
//
// Every filesystem operation goes through an os.Root, so neither ".."
// components nor previously extracted symlinks can reach outside dest.
// Symlinks are recreated as links and never followed. Entries other than
// directories, regular files and symlinks are skipped.
func Unpack(r io.Reader, dest string) error {
	root, err := os.OpenRoot(dest)
	if err != nil {
		return &UnpackError{Err: err}
	}
	defer iox.DiscardClose(root)

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, _ := br.Peek(len(gzipMagic)); bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return &UnpackError{Err: err}
		}
		defer iox.DiscardClose(zr)
		src = zr
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &UnpackError{Err: err}
		}

		name, err := entryName(hdr.Name)
		if err != nil {
			return &UnpackError{Entry: hdr.Name, Err: err}
		}
		if name == "" {
			continue
		}

		if err := extract(root, tr, hdr, name); err != nil {
			return &UnpackError{Entry: hdr.Name, Err: err}
		}
	}
}

// entryName cleans a tar entry name into a root-relative path.
// The archive root itself maps to "".
func entryName(name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return "", errEscape
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errEscape
	}
	return clean, nil
}

func extract(root *os.Root, tr *tar.Reader, hdr *tar.Header, name string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return root.MkdirAll(name, 0o750)
	case tar.TypeReg:
		if err := mkParent(root, name); err != nil {
			return err
		}
		f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if err := mkParent(root, name); err != nil {
			return err
		}
		// The target is stored verbatim: links are recorded, never resolved.
		err := root.Symlink(hdr.Linkname, name)
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func mkParent(root *os.Root, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	return root.MkdirAll(dir, 0o750)
}
