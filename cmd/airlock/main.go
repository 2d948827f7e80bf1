// Package main provides the airlock CLI entrypoint.
//
// The same binary runs the device server of a station (serve), the
// analyzer server (analyzer) and the operator commands talking to them.
//
// Usage:
//
//	airlock <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: the operation or request failed
//   - 2: invalid flags or configuration
//   - 3: analyze found dirty files
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/cmd"
	"github.com/justapithecus/airlock/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "airlock",
		Usage:          "Removable media decontamination station",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands:       cmd.Commands(commit),
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	msg, code := exitMessage(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitMessage returns what to print and the process exit code for err.
func exitMessage(err error) (string, int) {
	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return msg, code
	}

	// Unexpected error - print and exit with code 1
	return fmt.Sprintf("Error: %v", err), 1
}
