package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/justapithecus/airlock/ipc"
)

// ProcessConfig configures an upload worker process.
type ProcessConfig struct {
	// WorkerPath is the path to the airlock-uploader binary.
	WorkerPath string
	// Args are passed before the bundle path.
	Args []string
	// BundlePath is the bundle handed to the worker.
	BundlePath string
	// Stderr receives the worker's log stream. Defaults to os.Stderr.
	Stderr io.Writer
	// Env is appended to the inherited environment.
	Env []string
}

// ProcessResult is the outcome of a finished worker process.
type ProcessResult struct {
	ExitCode int
}

// ProgressFunc receives upload progress in bytes.
type ProgressFunc func(current, total uint64)

// Process is the orchestrator handle on one worker process.
// Calls must follow the protocol: Unlock, then at most one Upload, then End.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	conn  *ipc.PeerConn

	mu     sync.Mutex
	closed bool
}

// StartProcess spawns the worker binary. The worker applies its sandbox
// and then blocks on the control byte.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if cfg.WorkerPath == "" {
		return nil, errors.New("worker path is required")
	}

	args := append(append([]string(nil), cfg.Args...), cfg.BundlePath)
	cmd := exec.CommandContext(ctx, cfg.WorkerPath, args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stderr = cfg.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start upload worker: %w", err)
	}

	return &Process{
		cmd:   cmd,
		stdin: stdin,
		conn:  ipc.NewPeerConn(stdin, stdout),
	}, nil
}

// Unlock writes the control byte selecting the bundle to upload.
func (p *Process) Unlock(mode ipc.Unlock) error {
	return p.conn.WriteControl(mode)
}

// Upload asks the worker to send its bundle to <url>/<id> and relays
// progress until the final response. Cancelling ctx kills the worker.
func (p *Process) Upload(ctx context.Context, id, url string, onProgress ProgressFunc) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Kill() })
	defer stop()

	err := p.conn.Send(&ipc.Request{
		Type:   ipc.RequestUpload,
		Upload: &ipc.UploadRequest{ID: id, URL: url},
	})
	if err != nil {
		return err
	}

	for {
		resp, err := p.conn.Recv()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		switch resp.Type {
		case ipc.ResponseUploadStatus:
			if onProgress != nil {
				onProgress(resp.Status.Current, resp.Status.Total)
			}
		case ipc.ResponseUpload:
			return nil
		case ipc.ResponseError:
			return resp.Err()
		default:
			return fmt.Errorf("unexpected response %q to upload", resp.Type)
		}
	}
}

// End ends the session and waits for the worker to exit.
func (p *Process) End() (*ProcessResult, error) {
	if err := p.conn.Send(&ipc.Request{Type: ipc.RequestEnd}); err != nil {
		_ = p.Kill()
		_, _ = p.Wait()
		return nil, err
	}

	for {
		resp, err := p.conn.Recv()
		if err != nil {
			_ = p.Kill()
			_, _ = p.Wait()
			return nil, err
		}
		// A worker draining after a failed upload may still answer with
		// errors for stale requests; only the end ack closes the session.
		if resp.Type == ipc.ResponseEnd {
			break
		}
	}

	return p.Wait()
}

// Wait closes the request side and waits for the worker to exit.
func (p *Process) Wait() (*ProcessResult, error) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		_ = p.stdin.Close()
	}
	p.mu.Unlock()

	err := p.cmd.Wait()
	if err == nil {
		return &ProcessResult{ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := -1
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			code = status.ExitStatus()
		}
		return &ProcessResult{ExitCode: code}, nil
	}
	return nil, fmt.Errorf("upload worker wait failed: %w", err)
}

// Kill terminates the worker process.
func (p *Process) Kill() error {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
