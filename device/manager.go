package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/types"
	"github.com/justapithecus/airlock/uploader"
)

// ErrNotUSB is returned when a USB-only operation targets another kind.
var ErrNotUSB = errors.New("device is not removable media")

// Config configures a Manager.
type Config struct {
	// Source enumerates devices (required).
	Source Source
	// WorkDir holds transfer bundles and disk images (required).
	WorkDir string
	// Analyzer scans bundles before delivery. Nil delivers unscanned.
	Analyzer *analyzer.Client
	// AnalyzePoll is the analyzer polling interval.
	AnalyzePoll time.Duration
	// Uploader is the worker process template for network destinations;
	// BundlePath is filled per transfer.
	Uploader uploader.ProcessConfig
	// Formatter creates filesystems after a wipe. Defaults to NoFormatter.
	Formatter Formatter
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// Manager owns the device server state: the gate, the operator session
// and the relay running device operations.
type Manager struct {
	cfg     Config
	logger  *log.Logger
	gate    *Gate
	session *Session
	relay   *Relay
}

// NewManager returns a manager with an idle gate and a fresh session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("device: source is required")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("device: work directory is required")
	}
	// Bundle paths handed to the upload worker end up in its allow-list,
	// which only accepts absolute paths.
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("device: resolve work directory: %w", err)
	}
	cfg.WorkDir = workDir
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("device: create work directory: %w", err)
	}
	if cfg.Formatter == nil {
		cfg.Formatter = NoFormatter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		gate:    NewGate(),
		session: NewSession(),
		relay:   NewRelay(logger, cfg.Metrics),
	}, nil
}

// Gate returns the busy indicator.
func (m *Manager) Gate() *Gate { return m.gate }

// SessionID returns the current session id.
func (m *Manager) SessionID() string { return m.session.ID() }

// Devices lists present devices. The gate turns busy while removable media
// is plugged and idle otherwise.
func (m *Manager) Devices(ctx context.Context) ([]types.Device, error) {
	devs, err := m.cfg.Source.Devices(ctx)
	if err != nil {
		return nil, err
	}
	usb := false
	for _, d := range devs {
		usb = usb || d.IsUSB()
	}
	if usb {
		m.gate.SetBusy()
	} else {
		m.gate.SetIdle()
	}
	return devs, nil
}

// Select records the source and destination devices of the session.
func (m *Manager) Select(ctx context.Context, dirty, out string) error {
	m.gate.SetBusy()
	d, err := Lookup(ctx, m.cfg.Source, dirty)
	if err != nil {
		return err
	}
	if !d.IsUSB() {
		return fmt.Errorf("%w: %s", ErrNotUSB, dirty)
	}
	if _, err := Lookup(ctx, m.cfg.Source, out); err != nil {
		return err
	}
	m.session.Select(dirty, out)
	m.logger.WithSession(m.session.ID()).Info("devices selected", map[string]any{"dirty": dirty, "out": out})
	return nil
}

// ReadDir lists a directory of the selected dirty device. p is relative to
// the device root; it cannot leave it.
func (m *Manager) ReadDir(ctx context.Context, p string) ([]types.DirEntry, error) {
	dirtyFP, _, err := m.session.Selection()
	if err != nil {
		return nil, err
	}
	dev, err := Lookup(ctx, m.cfg.Source, dirtyFP)
	if err != nil {
		return nil, err
	}
	rel := cleanRel(p)

	root, err := os.OpenRoot(dev.Mount)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(root)

	entries, err := fs.ReadDir(root.FS(), rel)
	if err != nil {
		return nil, err
	}
	base := rel
	if base == "." {
		base = ""
	}
	out := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.DirEntry{
			Path:      "/" + path.Join(base, e.Name()),
			Size:      info.Size(),
			IsDir:     e.IsDir(),
			IsSymlink: e.Type()&fs.ModeSymlink != 0,
			Timestamp: info.ModTime().Unix(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Copy starts a transfer of the selected files between the session
// devices. Selection problems are reported on the stream.
func (m *Manager) Copy(ctx context.Context, req types.CopyRequest) *Stream {
	op := &copyOp{m: m, session: m.session.ID(), req: req}
	dirty, out, err := m.session.Selection()
	if err == nil {
		op.dirty, err = Lookup(ctx, m.cfg.Source, dirty)
	}
	if err == nil {
		op.out, err = Lookup(ctx, m.cfg.Source, out)
	}
	if err != nil {
		return m.relay.Start(ctx, failedOp{kind: op.Kind(), err: err})
	}
	return m.relay.Start(ctx, op)
}

// Wipe starts zeroing a USB device and formatting it with fsfmt. quick
// limits the wipe to the first 16 MiB.
func (m *Manager) Wipe(ctx context.Context, fingerprint, fsfmt string, quick bool) (*Stream, error) {
	if err := CheckFSFormat(fsfmt); err != nil {
		return nil, err
	}
	m.gate.SetBusy()
	dev, err := m.usbDevice(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return m.relay.Start(ctx, &wipeOp{dev: dev, fsfmt: fsfmt, quick: quick, formatter: m.cfg.Formatter}), nil
}

// ImageDisk starts copying a USB device into an image file under the
// work directory.
func (m *Manager) ImageDisk(ctx context.Context, fingerprint string) (*Stream, error) {
	m.gate.SetBusy()
	dev, err := m.usbDevice(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return m.relay.Start(ctx, &imageOp{dev: dev, dir: filepath.Join(m.cfg.WorkDir, "images")}), nil
}

func (m *Manager) usbDevice(ctx context.Context, fingerprint string) (types.Device, error) {
	dev, err := Lookup(ctx, m.cfg.Source, fingerprint)
	if err != nil {
		return types.Device{}, err
	}
	if !dev.IsUSB() {
		return types.Device{}, fmt.Errorf("%w: %s", ErrNotUSB, fingerprint)
	}
	if dev.Path == "" {
		return types.Device{}, fmt.Errorf("device %s has no block path", fingerprint)
	}
	return dev, nil
}

// Reset idles the gate and starts a new session, whether or not an
// operation is still running.
func (m *Manager) Reset() {
	m.gate.SetIdle()
	m.session.Reset()
	m.logger.Info("session reset", map[string]any{"session_id": m.session.ID()})
}

// failedOp reports an error that happened before the operation started.
type failedOp struct {
	kind string
	err  error
}

func (op failedOp) Kind() string { return op.kind }

func (op failedOp) Run(context.Context, *Stream) error { return op.err }

func safeFingerprint(fp string) error {
	if fp == "" || fp == "." || fp == ".." || strings.ContainsAny(fp, `/\`) {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	return nil
}
