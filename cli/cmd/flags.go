// Package cmd provides CLI commands for the airlock binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess = 0
	// exitFailure: the operation or request failed.
	exitFailure = 1
	// exitConfig: invalid flags or configuration.
	exitConfig = 2
	// exitDirty: a scan found dirty files.
	exitDirty = 3
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for operation streams and report details.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (copy, wipe, image, reports show only)",
	}

	// ConfigFlag points at airlock.yaml.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to airlock.yaml",
		EnvVars: []string{"AIRLOCK_CONFIG"},
	}

	// ServerFlag is the device server base URL.
	ServerFlag = &cli.StringFlag{
		Name:    "server",
		Usage:   "Device server URL",
		Value:   "http://127.0.0.1:8080",
		EnvVars: []string{"AIRLOCK_SERVER"},
	}

	// LogLevelFlag sets the service log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error (overrides log_level)",
	}
)

// ReadOnlyFlags returns the output flags shared by every client command.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ClientFlags returns the flags of commands talking to the device server.
func ClientFlags(extra ...cli.Flag) []cli.Flag {
	return append(append(ReadOnlyFlags(), ServerFlag), extra...)
}

// rejectTUI fails commands without a TUI view.
func rejectTUI(c *cli.Context, command string) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for "+command+" command", exitConfig)
	}
	return nil
}
