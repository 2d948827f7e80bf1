package cmd

import "github.com/urfave/cli/v2"

// Commands returns every airlock subcommand.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ServeCommand(),
		AnalyzerCommand(),
		StatusCommand(),
		InfoCommand(),
		SessionCommand(),
		DevicesCommand(),
		SelectCommand(),
		LsCommand(),
		CopyCommand(),
		WipeCommand(),
		ImageCommand(),
		ResetCommand(),
		AnalyzeCommand(),
		ReportsCommand(),
		VersionCommand(commit),
	}
}
