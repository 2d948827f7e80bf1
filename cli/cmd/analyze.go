package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

// AnalyzeCommand returns the analyze command.
func AnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Submit a bundle to the analyzer and wait for the verdicts",
		ArgsUsage: "<bundle.tar>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "analyzer",
				Usage:   "Analyzer base URL",
				Value:   "http://127.0.0.1:8042",
				EnvVars: []string{"AIRLOCK_ANALYZER"},
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Station name sent with the bundle",
				Value: "cli",
			},
			&cli.DurationFlag{
				Name:  "poll",
				Usage: "Polling interval",
				Value: analyzer.DefaultPollInterval,
			},
		),
		Action: analyzeAction,
	}
}

func analyzeAction(c *cli.Context) error {
	if err := rejectTUI(c, "analyze"); err != nil {
		return err
	}
	if c.NArg() != 1 {
		return cli.Exit("analyze requires <bundle.tar>", exitConfig)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(f)

	client := &analyzer.Client{BaseURL: c.String("analyzer"), Source: c.String("source")}
	id, err := client.Submit(c.Context, f)
	if err != nil {
		return cli.Exit(fmt.Sprintf("submit: %v", err), exitFailure)
	}
	view, err := client.Wait(c.Context, id, c.Duration("poll"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("job %s: %v", id, err), exitFailure)
	}
	if err := r.Render(view); err != nil {
		return err
	}
	if code := analyzeExitCode(view); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// analyzeExitCode is 0 for an all-clean scan, exitDirty when any file is
// dirty and exitFailure when the job errored.
func analyzeExitCode(view *types.JobView) int {
	if view.Status != types.JobStatusScanned {
		return exitFailure
	}
	for _, f := range view.Files {
		if f.Status != types.VerdictClean {
			return exitDirty
		}
	}
	return exitSuccess
}
