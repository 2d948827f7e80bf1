package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/ipc"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
	"github.com/justapithecus/airlock/uploader"
)

// copyOp transfers the selected files of the dirty device to the out
// device, through the analyzer when one is configured.
type copyOp struct {
	m       *Manager
	session string
	dirty   types.Device
	out     types.Device
	req     types.CopyRequest
}

func (op *copyOp) Kind() string { return "copy" }

func (op *copyOp) Run(ctx context.Context, s *Stream) error {
	if len(op.req.Selected) == 0 {
		return errors.New("copy: no files selected")
	}
	if op.dirty.Mount == "" {
		return fmt.Errorf("copy: device %s has no mount", op.dirty.Fingerprint)
	}

	src, err := os.OpenRoot(op.dirty.Mount)
	if err != nil {
		return fmt.Errorf("copy: open source: %w", err)
	}
	defer iox.DiscardClose(src)

	files, total, err := planBundle(src, op.req.Selected)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	s.Send(types.Event{Status: types.EventCopyStart, Total: uint64(total)})

	dir := filepath.Join(op.m.cfg.WorkDir, op.session)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	bundle := filepath.Join(dir, analyzer.NewID()+".tar")
	if err := op.buildBundle(bundle, src, files, total, s); err != nil {
		return fmt.Errorf("copy: build bundle: %w", err)
	}

	unlock := ipc.UnlockPath
	deliver := bundle
	var verdicts map[string]types.Verdict
	if op.m.cfg.Analyzer != nil {
		verdicts, err = op.analyze(ctx, bundle, s)
		if err != nil {
			return fmt.Errorf("copy: analyze: %w", err)
		}
		clean := uploader.CleanPath(bundle)
		if err := writeCleanBundle(clean, bundle, verdicts); err != nil {
			return fmt.Errorf("copy: clean bundle: %w", err)
		}
		unlock, deliver = ipc.UnlockCleanPath, clean
	}

	if op.out.IsUSB() {
		err = op.extract(deliver)
	} else {
		err = op.upload(ctx, bundle, unlock, s)
	}
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	s.Send(types.Event{Status: types.EventCopyEnd, Current: uint64(total), Total: uint64(total), Files: verdicts})
	return nil
}

func (op *copyOp) buildBundle(dst string, src *os.Root, files []bundleFile, total int64, s *Stream) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	rels := make([]string, 0, len(files))
	for _, bf := range files {
		rels = append(rels, bf.rel)
	}
	cfg := BundleConfig{
		Session:   op.session,
		Source:    op.dirty.Fingerprint,
		Files:     rels,
		CreatedAt: time.Now().UTC(),
	}
	err = writeBundle(f, src, files, cfg, func(path string, done int64) {
		s.Send(types.Event{Status: types.EventCopyProgress, Path: path, Current: uint64(done), Total: uint64(total)})
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// analyze submits the bundle and waits for its verdicts. An error status
// fails the copy: nothing unscanned leaves the station.
func (op *copyOp) analyze(ctx context.Context, bundle string, s *Stream) (map[string]types.Verdict, error) {
	s.Send(types.Event{Status: types.EventAnalyzeStart})

	f, err := os.Open(bundle)
	if err != nil {
		return nil, err
	}
	id, err := op.m.cfg.Analyzer.Submit(ctx, f)
	iox.DiscardClose(f)
	if err != nil {
		return nil, err
	}
	view, err := op.m.cfg.Analyzer.Wait(ctx, id, op.m.cfg.AnalyzePoll)
	if err != nil {
		return nil, err
	}
	if view.Status != types.JobStatusScanned {
		return nil, fmt.Errorf("job %s ended with status %s", id, view.Status)
	}

	verdicts := make(map[string]types.Verdict, len(view.Files))
	for p, r := range view.Files {
		verdicts[p] = r.Status
	}
	s.Send(types.Event{Status: types.EventAnalyzeDone, Files: verdicts})
	return verdicts, nil
}

func writeCleanBundle(dst, src string, verdicts map[string]types.Verdict) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	_, err = filterBundle(out, in, verdicts)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (op *copyOp) extract(bundle string) error {
	if op.out.Mount == "" {
		return fmt.Errorf("device %s has no mount", op.out.Fingerprint)
	}
	root, err := os.OpenRoot(op.out.Mount)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(root)

	f, err := os.Open(bundle)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)
	_, err = extractData(root, f)
	return err
}

// upload hands the bundle to a sandboxed upload worker. The worker opens
// the clean sibling itself when unlock selects it.
func (op *copyOp) upload(ctx context.Context, bundle string, unlock ipc.Unlock, s *Stream) error {
	if op.out.URL == "" {
		return fmt.Errorf("device %s has no upload url", op.out.Fingerprint)
	}
	pcfg := op.m.cfg.Uploader
	pcfg.BundlePath = bundle

	proc, err := uploader.StartProcess(ctx, pcfg)
	if err != nil {
		op.m.cfg.Metrics.IncUploadFailed()
		return err
	}
	if err := proc.Unlock(unlock); err != nil {
		_ = proc.Kill()
		_, _ = proc.Wait()
		op.m.cfg.Metrics.IncUploadFailed()
		return fmt.Errorf("unlock worker: %w", err)
	}

	id := strings.TrimSuffix(filepath.Base(bundle), ".tar")
	upErr := proc.Upload(ctx, id, op.out.URL, func(current, total uint64) {
		s.Send(types.Event{Status: types.EventUploadProgress, Current: current, Total: total})
	})
	res, endErr := proc.End()
	if upErr != nil {
		op.m.cfg.Metrics.IncUploadFailed()
		return fmt.Errorf("upload: %w", upErr)
	}
	if endErr != nil {
		op.m.cfg.Metrics.IncUploadFailed()
		return fmt.Errorf("end worker: %w", endErr)
	}
	if res.ExitCode != 0 {
		op.m.cfg.Metrics.IncUploadFailed()
		return fmt.Errorf("upload worker exited with code %d", res.ExitCode)
	}
	op.m.cfg.Metrics.IncUploadCompleted()
	return nil
}
