// Package uploader implements the sandboxed upload worker and the
// orchestrator handle that drives it.
//
// The worker is a single-threaded state machine:
//
//	init -> running -> waitEnd -> end
//	init -> waitEnd (nothing to upload)
//	running -> end (end requested before any upload)
//
// Errors local to one request are reported as error responses and the
// worker drains in waitEnd. Sandbox and channel failures stop the worker.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/justapithecus/airlock/ipc"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/sandbox"
)

// State is the worker state.
type State int

// Worker states.
const (
	StateInit State = iota
	StateRunning
	StateWaitEnd
	StateEnd
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateWaitEnd:
		return "wait_end"
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultSystemPaths are the read-only system paths the worker keeps after
// confinement: TLS roots, resolver configuration and shared libraries.
// Airlock state directories are never listed; the worker only sees its own
// bundle and the clean bundle derived from it.
var DefaultSystemPaths = []string{"/etc", "/lib", "/usr/lib"}

// WaitEndMessage is the error returned to any request other than end while
// the worker drains.
const WaitEndMessage = "bad req, waiting end"

// ErrPeerClosed is returned when the orchestrator closes the channel without
// ending the session.
var ErrPeerClosed = errors.New("control channel closed by peer")

// CleanPath derives the clean bundle path from a bundle path:
// "/x/bundle.tar" becomes "/x/bundle_clean.tar".
func CleanPath(tarPath string) string {
	return strings.TrimSuffix(tarPath, ".tar") + "_clean.tar"
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// TarPath is the bundle the worker may upload.
	TarPath string
	// Confiner applies the sandbox. Defaults to the process-wide Landlock confiner.
	Confiner sandbox.Confiner
	// SystemPaths replaces DefaultSystemPaths when non-nil.
	SystemPaths []string
	// Transports performs the uploads. Defaults to NewTransports(nil, nil).
	Transports *Transports
	// Logger receives worker diagnostics. Defaults to log.Nop().
	Logger *log.Logger
}

// Worker is the upload worker state machine.
type Worker struct {
	conn       *ipc.WorkerConn
	confiner   sandbox.Confiner
	transports *Transports
	logger     *log.Logger
	sysPaths   []string

	state   State
	tarPath string
	file    *os.File
}

// NewWorker creates a worker in the init state.
func NewWorker(conn *ipc.WorkerConn, cfg WorkerConfig) *Worker {
	w := &Worker{
		conn:       conn,
		confiner:   cfg.Confiner,
		transports: cfg.Transports,
		logger:     cfg.Logger,
		sysPaths:   cfg.SystemPaths,
		state:      StateInit,
		tarPath:    cfg.TarPath,
	}
	if w.confiner == nil {
		w.confiner = sandbox.ConfinerFunc(sandbox.Apply)
	}
	if w.transports == nil {
		w.transports = NewTransports(nil, nil)
	}
	if w.logger == nil {
		w.logger = log.Nop()
	}
	if w.sysPaths == nil {
		w.sysPaths = DefaultSystemPaths
	}
	return w
}

// State returns the current state.
func (w *Worker) State() State {
	return w.state
}

// Run drives the state machine until end or a fatal error.
// A nil return means the orchestrator ended the session cleanly.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeFile()

	for w.state != StateEnd {
		err := w.step(ctx)
		if err == nil {
			continue
		}

		if isFatal(err) {
			w.logger.Error("fatal worker error", map[string]any{
				"state": w.state.String(),
				"error": err.Error(),
			})
			// Best effort: the channel may be the thing that failed.
			_ = w.conn.SendError(err.Error())
			return err
		}

		w.logger.Error("state run error, waiting end", map[string]any{
			"state": w.state.String(),
			"error": err.Error(),
		})
		w.closeFile()
		w.state = StateWaitEnd
		if sendErr := w.conn.SendError("run error: " + err.Error()); sendErr != nil {
			return sendErr
		}
	}
	return nil
}

func isFatal(err error) bool {
	return ipc.IsFatalFrameError(err) ||
		errors.Is(err, sandbox.ErrSandbox) ||
		errors.Is(err, ErrPeerClosed)
}

func (w *Worker) step(ctx context.Context) error {
	switch w.state {
	case StateInit:
		return w.runInit()
	case StateRunning:
		return w.runRunning(ctx)
	case StateWaitEnd:
		return w.runWaitEnd()
	default:
		return fmt.Errorf("no transition from state %s", w.state)
	}
}

// runInit confines the process, then waits for the control byte.
func (w *Worker) runInit() error {
	cleanPath := CleanPath(w.tarPath)
	paths := append([]string{w.tarPath, cleanPath}, w.sysPaths...)
	if err := w.confiner.Apply(sandbox.Policy{Paths: paths, Mode: sandbox.ReadOnly}); err != nil {
		return err
	}

	unlock, err := w.conn.ReadControl()
	if err != nil {
		return err
	}

	path := w.tarPath
	switch unlock {
	case ipc.UnlockNone:
		w.state = StateWaitEnd
		return nil
	case ipc.UnlockPath:
	case ipc.UnlockCleanPath:
		path = cleanPath
	default:
		w.logger.Error("bad unlock value", map[string]any{"value": int(unlock)})
		w.state = StateWaitEnd
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	w.file = f
	w.state = StateRunning
	return nil
}

func (w *Worker) runRunning(ctx context.Context) error {
	req, err := w.recv()
	if err != nil {
		return err
	}

	switch req.Type {
	case ipc.RequestUpload:
		if err := w.upload(ctx, req.Upload); err != nil {
			w.logger.Error("upload error", map[string]any{
				"job_id": req.Upload.ID,
				"error":  err.Error(),
			})
			if sendErr := w.conn.SendError(err.Error()); sendErr != nil {
				return sendErr
			}
		}
		w.closeFile()
		w.state = StateWaitEnd
		return nil
	case ipc.RequestEnd:
		if err := w.conn.SendEnd(); err != nil {
			return err
		}
		w.state = StateEnd
		return nil
	default:
		return fmt.Errorf("unexpected request %q", req.Type)
	}
}

func (w *Worker) runWaitEnd() error {
	for {
		req, err := w.recv()
		if err != nil {
			return err
		}
		if req.Type == ipc.RequestEnd {
			if err := w.conn.SendEnd(); err != nil {
				return err
			}
			w.state = StateEnd
			return nil
		}
		w.logger.Warn("bad request", map[string]any{"type": string(req.Type)})
		if err := w.conn.SendError(WaitEndMessage); err != nil {
			return err
		}
	}
}

func (w *Worker) recv() (*ipc.Request, error) {
	req, err := w.conn.Recv()
	if errors.Is(err, io.EOF) {
		return nil, ErrPeerClosed
	}
	return req, err
}

func (w *Worker) closeFile() {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
}
