package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/justapithecus/airlock/types"
)

// Filesystems a wiped device can be formatted with. FSNone leaves the
// device zeroed.
const (
	FSNone  = "none"
	FSVFAT  = "vfat"
	FSExFAT = "exfat"
	FSNTFS  = "ntfs"
)

var (
	// ErrBadFSFormat is returned for a filesystem name airlock does not know.
	ErrBadFSFormat = errors.New("unknown filesystem format")
	// ErrFormatUnavailable is returned by a Formatter that cannot create
	// filesystems.
	ErrFormatUnavailable = errors.New("filesystem creation not available")
)

// CheckFSFormat validates a requested filesystem name.
func CheckFSFormat(fsfmt string) error {
	switch fsfmt {
	case FSNone, FSVFAT, FSExFAT, FSNTFS:
		return nil
	}
	return fmt.Errorf("%w: %q (want none, vfat, exfat or ntfs)", ErrBadFSFormat, fsfmt)
}

// Formatter creates a filesystem on a wiped block device.
type Formatter interface {
	Format(ctx context.Context, dev types.Device, fsfmt string) error
}

// NoFormatter refuses every format request.
type NoFormatter struct{}

// Format implements Formatter.
func (NoFormatter) Format(_ context.Context, _ types.Device, fsfmt string) error {
	return fmt.Errorf("%w: %s", ErrFormatUnavailable, fsfmt)
}

// mkfsArgs holds the tool and options per filesystem. The device path is
// appended last.
var mkfsArgs = map[string][]string{
	FSVFAT:  {"mkfs.vfat", "-I"},
	FSExFAT: {"mkfs.exfat"},
	FSNTFS:  {"mkfs.ntfs", "--quick", "--force"},
}

// Mkfs formats devices with the mkfs.<fs> tools.
type Mkfs struct {
	// Dir holds the mkfs tools. Empty searches PATH.
	Dir string
}

// Format implements Formatter.
func (m Mkfs) Format(ctx context.Context, dev types.Device, fsfmt string) error {
	args, ok := mkfsArgs[fsfmt]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadFSFormat, fsfmt)
	}
	tool := args[0]
	if m.Dir != "" {
		tool = filepath.Join(m.Dir, tool)
	}
	cmd := exec.CommandContext(ctx, tool, append(args[1:len(args):len(args)], dev.Path)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := bytes.TrimSpace(out); len(msg) > 0 {
			return fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
