package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// abis lists the Landlock ABI versions tried, newest first. Each attempt is
// strict: an ABI the kernel does not support fails before anything is
// enforced, and the next one is tried.
var abis = []landlock.Config{
	landlock.V5,
	landlock.V4,
	landlock.V3,
	landlock.V2,
	landlock.V1,
}

// Landlock confines the process with the Linux Landlock LSM.
// On other platforms Apply always fails.
type Landlock struct {
	mu      sync.Mutex
	applied *Policy
}

// NewLandlock returns a Landlock confiner.
func NewLandlock() *Landlock {
	return &Landlock{}
}

var (
	defaultOnce     sync.Once
	defaultConfiner *Landlock
)

// Apply confines the current process with the process-wide Landlock
// confiner.
func Apply(p Policy) error {
	defaultOnce.Do(func() { defaultConfiner = NewLandlock() })
	return defaultConfiner.Apply(p)
}

// Apply enforces p on every thread of the process.
// A second call must narrow the first policy or it is refused.
func (l *Landlock) Apply(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.applied != nil && !l.applied.Narrows(p) {
		return fmt.Errorf("%w: policy widens the applied allow-list", ErrSandbox)
	}

	dirs, files, err := classify(p.Paths)
	if err != nil {
		return err
	}
	if len(dirs) == 0 && len(files) == 0 {
		return fmt.Errorf("%w: no allowed path exists", ErrSandbox)
	}

	var rules []landlock.Rule
	if p.Mode == ReadWrite {
		rules = append(rules, landlock.RWDirs(dirs...), landlock.RWFiles(files...))
	} else {
		rules = append(rules, landlock.RODirs(dirs...), landlock.ROFiles(files...))
	}

	var errs []error
	for _, cfg := range abis {
		err := cfg.RestrictPaths(rules...)
		if err == nil {
			applied := p
			l.applied = &applied
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: landlock: %w", ErrSandbox, errors.Join(errs...))
}

// classify splits paths into directories and other files.
// Missing paths are skipped; any other stat failure is an error.
func classify(paths []string) (dirs, files []string, err error) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrSandbox, path, err)
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
	}
	return dirs, files, nil
}
