package device

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

const (
	// ioChunk is the write size for wipes and the read size for images.
	ioChunk = 1 << 20
	// quickWipeSize is how much a quick wipe zeroes: enough to destroy the
	// partition table and filesystem superblocks.
	quickWipeSize = 16 << 20
)

// deviceSize returns the size of a block device or regular file.
func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// wipeOp overwrites a device with zeros, then formats it unless fsfmt is
// FSNone.
type wipeOp struct {
	dev       types.Device
	fsfmt     string
	quick     bool
	formatter Formatter
}

func (op *wipeOp) Kind() string { return "wipe" }

func (op *wipeOp) Run(ctx context.Context, s *Stream) error {
	f, err := os.OpenFile(op.dev.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	defer iox.DiscardClose(f)

	size, err := deviceSize(f)
	if err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	total := size
	if op.quick && total > quickWipeSize {
		total = quickWipeSize
	}
	s.Send(types.Event{Status: types.EventWipeStart, Total: uint64(total)})

	zeros := make([]byte, ioChunk)
	var done int64
	for done < total {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
		n := min(int64(len(zeros)), total-done)
		w, err := f.Write(zeros[:n])
		done += int64(w)
		if err != nil {
			return fmt.Errorf("wipe at %d: %w", done, err)
		}
		s.Send(types.Event{Status: types.EventWipeProgress, Current: uint64(done), Total: uint64(total)})
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("wipe: sync: %w", err)
	}
	// The formatter opens the device itself.
	if err := f.Close(); err != nil {
		return fmt.Errorf("wipe: close: %w", err)
	}

	end := types.Event{Status: types.EventWipeEnd, Current: uint64(done), Total: uint64(total)}
	if op.fsfmt != FSNone {
		if err := op.formatter.Format(ctx, op.dev, op.fsfmt); err != nil {
			return fmt.Errorf("format %s: %w", op.fsfmt, err)
		}
		end.Message = "formatted " + op.fsfmt
	}
	s.Send(end)
	return nil
}
