package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/airlock/adapter"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/types"
)

// ReportWriter archives finished scan reports.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *types.ScanReport) error
}

// Config configures a Service.
type Config struct {
	// WorkDir holds submitted bundles, stored artifacts and unpack
	// directories (required).
	WorkDir string
	// Oracle scans individual files (required).
	Oracle Oracle
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// Notifier receives one event per finished job (optional).
	Notifier adapter.Adapter
	// Reports archives one report per finished job (optional).
	Reports ReportWriter
}

// Service accepts bundles, scans them in the background and serves each
// terminal result once.
type Service struct {
	cfg     Config
	logger  *log.Logger
	tracker *Tracker
	wg      sync.WaitGroup
}

// NewService creates the work directory and returns a ready service.
func NewService(cfg Config) (*Service, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("analyzer: work directory is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("analyzer: oracle is required")
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("analyzer: resolve work directory: %w", err)
	}
	cfg.WorkDir = workDir
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("analyzer: create work directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{cfg: cfg, logger: logger, tracker: NewTracker()}, nil
}

// NewID returns a fresh job or bundle id: 32 lowercase hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Service) bundlePath(id string) string {
	return filepath.Join(s.cfg.WorkDir, id+".tar")
}

// Submit stores body as a new bundle, registers the job and starts the
// background scan. The scan outlives ctx.
func (s *Service) Submit(ctx context.Context, body io.Reader) (string, error) {
	id := NewID()
	path := s.bundlePath(id)

	n, err := writeFile(path, body)
	if err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	if err := s.tracker.Submit(id); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	s.cfg.Metrics.IncJobSubmitted()
	s.logger.Info("bundle submitted", map[string]any{"job_id": id, "bytes": n})

	bg := context.WithoutCancel(ctx)
	s.wg.Go(func() { s.scan(bg, id, path) })
	return id, nil
}

// writeFile copies r into a new file at path and returns the byte count.
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func (s *Service) scan(ctx context.Context, id, bundle string) {
	logger := s.logger.WithJob(id)
	report := &types.ScanReport{
		ID:        id,
		Files:     make(map[string]types.Verdict),
		StartedAt: time.Now().UTC(),
	}

	err := s.unpackAndWalk(ctx, id, bundle, func(path string, v types.Verdict, sig string, scanErr error) {
		s.tracker.Record(id, path, v)
		report.Files[path] = v
		switch {
		case scanErr != nil:
			s.cfg.Metrics.IncOracleError()
			s.cfg.Metrics.IncFileDirty()
			logger.Warn("scan failed, marking dirty", map[string]any{"path": path, "error": scanErr.Error()})
		case v == types.VerdictDirty:
			s.cfg.Metrics.IncFileDirty()
			logger.Warn("infected file", map[string]any{"path": path, "signature": sig})
		default:
			s.cfg.Metrics.IncFileClean()
		}
	})

	status := types.JobStatusScanned
	if err != nil {
		status = types.JobStatusError
		report.Files = make(map[string]types.Verdict)
		report.Error = err.Error()
		s.cfg.Metrics.IncJobErrored()
		logger.Error("scan failed", map[string]any{"error": err.Error()})
	} else {
		s.cfg.Metrics.IncJobScanned()
	}
	s.tracker.Finish(id, status)

	report.Status = status
	report.EndedAt = time.Now().UTC()
	report.CountVerdicts()
	if info, err := s.cfg.Oracle.Info(ctx); err == nil {
		report.Engine = info.Name
		report.Antivirus = antivirusInfo(info)
	}
	logger.Info("scan finished", map[string]any{
		"status": string(status),
		"clean":  report.Clean,
		"dirty":  report.Dirty,
	})
	s.publish(ctx, logger, report)
}

func (s *Service) unpackAndWalk(ctx context.Context, id, bundle string, fn verdictFunc) error {
	dir, err := os.MkdirTemp(s.cfg.WorkDir, id+"-unpack-")
	if err != nil {
		return fmt.Errorf("create unpack directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	f, err := os.Open(bundle)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	err = Unpack(f, dir)
	iox.DiscardClose(f)
	if err != nil {
		return err
	}
	return walkTree(ctx, scanRoot(dir), s.cfg.Oracle, fn)
}

// publish archives the report and notifies downstream consumers. Failures
// are logged and counted; they never change the job result.
func (s *Service) publish(ctx context.Context, logger *log.Logger, report *types.ScanReport) {
	if s.cfg.Reports != nil {
		if err := s.cfg.Reports.WriteReport(ctx, report); err != nil {
			s.cfg.Metrics.IncReportWriteFailure()
			logger.Error("report write failed", map[string]any{"error": err.Error()})
		} else {
			s.cfg.Metrics.IncReportWriteSuccess()
		}
	}
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.Publish(ctx, adapter.NewScanCompletedEvent(report)); err != nil {
			s.cfg.Metrics.IncNotifyFailure()
			logger.Error("notify failed", map[string]any{"error": err.Error()})
		}
	}
}

func antivirusInfo(info EngineInfo) types.AntivirusInfo {
	return types.AntivirusInfo{
		Version:           info.Version,
		DatabaseVersion:   info.DatabaseVersion,
		DatabaseTimestamp: info.DatabaseTimestamp,
	}
}

// Poll returns the job view. A processing job yields only id and status.
// The first terminal poll consumes the job: it deletes the stored bundle
// and any later poll returns ErrNotFound.
func (s *Service) Poll(ctx context.Context, id string) (*types.JobView, error) {
	st, err := s.tracker.Poll(id)
	if err != nil {
		return nil, err
	}
	if !st.Status.IsTerminal() {
		return &types.JobView{ID: st.ID, Status: st.Status}, nil
	}

	s.cfg.Metrics.IncJobConsumed()
	if err := os.Remove(s.bundlePath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.WithJob(id).Warn("remove bundle failed", map[string]any{"error": err.Error()})
	}

	view := &types.JobView{
		ID:        st.ID,
		Status:    st.Status,
		Version:   types.ResultFormatVersion,
		Files:     make(map[string]types.FileResult, len(st.Files)),
		Antivirus: make(map[string]types.AntivirusInfo, 1),
	}
	for path, v := range st.Files {
		view.Files[path] = types.FileResult{Status: v}
	}
	info, err := s.cfg.Oracle.Info(ctx)
	if err != nil {
		s.logger.WithJob(id).Warn("engine info unavailable", map[string]any{"error": err.Error()})
		return view, nil
	}
	view.Antivirus[info.Name] = antivirusInfo(info)
	return view, nil
}

// Pending returns the number of tracked jobs, terminal ones included until
// they are polled.
func (s *Service) Pending() int {
	return s.tracker.Len()
}

// Close waits for in-flight scans.
func (s *Service) Close() error {
	s.wg.Wait()
	return nil
}
