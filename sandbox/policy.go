// Package sandbox confines the current process to an explicit filesystem
// allow-list before it touches untrusted data.
//
// Confinement is one-way: once applied it lasts until the process exits,
// and a later policy may only narrow the set of reachable paths.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSandbox is wrapped by every confinement failure.
// Callers must treat it as fatal and stop before opening untrusted input.
var ErrSandbox = errors.New("sandbox")

// Mode is the access granted on allowed paths.
type Mode int

const (
	// ReadOnly permits reading files and listing directories.
	ReadOnly Mode = iota
	// ReadWrite additionally permits creating, writing and removing.
	ReadWrite
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Policy is the allow-list a process is confined to.
type Policy struct {
	Paths []string
	Mode  Mode
}

// Validate checks that the policy is applicable.
// An empty allow-list is refused: confining to nothing is never what a
// worker role wants and usually means the list was not computed.
func (p Policy) Validate() error {
	if len(p.Paths) == 0 {
		return fmt.Errorf("%w: empty allow-list", ErrSandbox)
	}
	for _, path := range p.Paths {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%w: path %q is not absolute", ErrSandbox, path)
		}
	}
	if p.Mode != ReadOnly && p.Mode != ReadWrite {
		return fmt.Errorf("%w: unknown %s", ErrSandbox, p.Mode)
	}
	return nil
}

// Covers reports whether path is one of the allowed paths or lies beneath
// an allowed directory.
func (p Policy) Covers(path string) bool {
	path = filepath.Clean(path)
	for _, allowed := range p.Paths {
		allowed = filepath.Clean(allowed)
		if path == allowed {
			return true
		}
		if allowed == "/" || strings.HasPrefix(path, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Narrows reports whether next grants no more than p.
func (p Policy) Narrows(next Policy) bool {
	if next.Mode == ReadWrite && p.Mode == ReadOnly {
		return false
	}
	for _, path := range next.Paths {
		if !p.Covers(path) {
			return false
		}
	}
	return true
}

// Confiner applies a policy to the current process.
type Confiner interface {
	Apply(p Policy) error
}

// ConfinerFunc adapts a function to the Confiner interface.
type ConfinerFunc func(p Policy) error

// Apply calls f(p).
func (f ConfinerFunc) Apply(p Policy) error {
	return f(p)
}
