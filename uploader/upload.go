package uploader

import (
	"context"
	"errors"

	"github.com/justapithecus/airlock/ipc"
)

// upload sends the open bundle to <url>/<id> and acknowledges it.
// The file is consumed: a second upload in the same session is impossible.
func (w *Worker) upload(ctx context.Context, req *ipc.UploadRequest) error {
	if w.file == nil {
		return errors.New("no file to upload")
	}
	file := w.file
	w.file = nil
	defer func() { _ = file.Close() }()

	dest, err := DestinationURL(req.URL, req.ID)
	if err != nil {
		return err
	}
	transport, err := w.transports.For(dest)
	if err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	w.logger.Info("upload started", map[string]any{
		"job_id": req.ID,
		"size":   size,
		"scheme": dest.Scheme,
	})

	body := newProgressReader(file, w.conn.Clone(), uint64(size))
	if err := transport.Upload(ctx, dest, body, size); err != nil {
		return err
	}

	w.logger.Info("upload finished", map[string]any{"job_id": req.ID})
	return w.conn.SendUploadAck()
}
