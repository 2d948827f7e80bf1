package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

// imageOp copies a whole device into an image file.
type imageOp struct {
	dev types.Device
	dir string
	now func() time.Time
}

func (op *imageOp) Kind() string { return "imagedisk" }

// imagePath returns <dir>/<fingerprint>-<unix>.img.
func (op *imageOp) imagePath() string {
	now := time.Now
	if op.now != nil {
		now = op.now
	}
	return filepath.Join(op.dir, fmt.Sprintf("%s-%d.img", op.dev.Fingerprint, now().Unix()))
}

func (op *imageOp) Run(ctx context.Context, s *Stream) error {
	if err := safeFingerprint(op.dev.Fingerprint); err != nil {
		return fmt.Errorf("imagedisk: %w", err)
	}
	in, err := os.Open(op.dev.Path)
	if err != nil {
		return fmt.Errorf("imagedisk: %w", err)
	}
	defer iox.DiscardClose(in)

	size, err := deviceSize(in)
	if err != nil {
		return fmt.Errorf("imagedisk: %w", err)
	}
	if err := os.MkdirAll(op.dir, 0o750); err != nil {
		return fmt.Errorf("imagedisk: %w", err)
	}
	dst := op.imagePath()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("imagedisk: %w", err)
	}

	s.Send(types.Event{Status: types.EventImageStart, Total: uint64(size), Path: dst})
	done, err := copyWithProgress(ctx, out, in, func(done int64) {
		s.Send(types.Event{Status: types.EventImageProgress, Current: uint64(done), Total: uint64(size)})
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("imagedisk: %w", err)
	}

	s.Send(types.Event{Status: types.EventImageEnd, Current: uint64(done), Total: uint64(size), Path: dst})
	return nil
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, progress func(done int64)) (int64, error) {
	buf := make([]byte, ioChunk)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, err
			}
			done += int64(n)
			progress(done)
		}
		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return done, nil
		default:
			return done, rerr
		}
	}
}
