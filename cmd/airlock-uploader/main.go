// Package main provides the airlock-uploader worker entrypoint.
//
// The device server spawns one worker per network transfer. The worker
// confines itself with Landlock, waits for the control byte on stdin and
// then serves upload requests; stdout carries protocol frames only, logs
// go to stderr.
//
// Usage:
//
//	airlock-uploader [options] <bundle.tar>
//
// Exit codes:
//   - 0: the orchestrator ended the session
//   - 1: protocol or run failure
//   - 2: invalid arguments
//   - 3: sandbox could not be applied
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/ipc"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/sandbox"
	"github.com/justapithecus/airlock/types"
	"github.com/justapithecus/airlock/uploader"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
	exitSandbox = 3
)

func main() {
	app := &cli.App{
		Name:      "airlock-uploader",
		Usage:     "Sandboxed bundle upload worker",
		ArgsUsage: "<bundle.tar>",
		Version:   types.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringSliceFlag{
				Name:  "allow",
				Usage: "Extra read-only path allowed by the sandbox (repeatable)",
			},
		},
		Action:         workerAction,
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitFailure)
	}
}

func workerAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: airlock-uploader [options] <bundle.tar>", exitUsage)
	}
	logger := log.NewLogger("uploader")
	if err := logger.SetLevel(c.String("log-level")); err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level: %v", err), exitUsage)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := uploader.NewWorker(ipc.NewWorkerConn(os.Stdin, os.Stdout), uploader.WorkerConfig{
		TarPath:     c.Args().First(),
		SystemPaths: systemPaths(c.StringSlice("allow")),
		Logger:      logger,
	})
	return exitFor(w.Run(ctx))
}

// systemPaths extends the default read-only allow-list.
func systemPaths(extra []string) []string {
	return append(append([]string(nil), uploader.DefaultSystemPaths...), extra...)
}

// exitFor maps the worker result onto the exit code contract.
func exitFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sandbox.ErrSandbox):
		return cli.Exit(err.Error(), exitSandbox)
	default:
		return cli.Exit(err.Error(), exitFailure)
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCoder.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFailure)
}
