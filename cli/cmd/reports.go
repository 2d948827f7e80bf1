package cmd

import (
	"fmt"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/config"
	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/cli/tui"
	"github.com/justapithecus/airlock/lode"
)

// ReportDetail is the payload of reports show.
type ReportDetail struct {
	Report   lode.ReportRecord    `json:"report" yaml:"report"`
	Verdicts []lode.VerdictRecord `json:"verdicts" yaml:"verdicts"`
}

// reportFlags locate the archive; they override the reports section.
func reportFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "reports-backend",
			Usage: "Archive backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "reports-path",
			Usage: "fs: directory, s3: bucket/prefix",
		},
		&cli.StringFlag{
			Name:  "reports-region",
			Usage: "S3 region",
		},
		&cli.StringFlag{
			Name:  "reports-endpoint",
			Usage: "S3-compatible endpoint URL",
		},
	}
}

// ReportsCommand returns the reports command with subcommands.
func ReportsCommand() *cli.Command {
	return &cli.Command{
		Name:  "reports",
		Usage: "Query archived scan reports",
		Subcommands: []*cli.Command{
			reportsListCommand(),
			reportsShowCommand(),
		},
	}
}

func reportsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List scan reports, latest first",
		Flags: append(append(ReadOnlyFlags(), reportFlags()...),
			&cli.StringFlag{Name: "source", Usage: "Filter by station"},
			&cli.StringFlag{Name: "day", Usage: "Filter by day (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "status", Usage: "Filter by status: scanned, error"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of reports"},
		),
		Action: reportsListAction,
	}
}

func reportsListAction(c *cli.Context) error {
	if err := rejectTUI(c, "reports list"); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ds, err := openReports(c)
	if err != nil {
		return err
	}
	reports, err := lode.QueryReports(c.Context, ds, lode.Filter{
		Source: c.String("source"),
		Day:    c.String("day"),
		Status: c.String("status"),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("query reports: %v", err), exitFailure)
	}
	return r.Render(reports)
}

func reportsShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one scan report with its verdicts",
		ArgsUsage: "<job-id>",
		Flags:     append(ReadOnlyFlags(), reportFlags()...),
		Action:    reportsShowAction,
	}
}

func reportsShowAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("reports show requires <job-id>", exitConfig)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ds, err := openReports(c)
	if err != nil {
		return err
	}
	report, verdicts, err := lode.FindReport(c.Context, ds, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if verdicts == nil {
		verdicts = []lode.VerdictRecord{}
	}
	if c.Bool("tui") {
		return tui.RunReportTUI(report, verdicts)
	}
	return r.Render(ReportDetail{Report: report, Verdicts: verdicts})
}

// openReports opens the archive named by flags over the config file.
func openReports(c *cli.Context) (lodelib.Dataset, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	rc := cfg.Reports
	rc.Backend = stringOr(c, "reports-backend", rc.Backend)
	rc.Path = stringOr(c, "reports-path", rc.Path)
	rc.Region = stringOr(c, "reports-region", rc.Region)
	rc.Endpoint = stringOr(c, "reports-endpoint", rc.Endpoint)
	if rc.Endpoint != "" && c.IsSet("reports-endpoint") {
		rc.S3PathStyle = true
	}
	if rc.Path == "" {
		return nil, cli.Exit("no report archive: set reports.path in the config or --reports-path", exitConfig)
	}

	var ds lodelib.Dataset
	switch rc.Backend {
	case config.BackendFS, "":
		ds, err = lode.NewReadDataset(rc.Dataset, lodelib.NewFSFactory(rc.Path))
	case config.BackendS3:
		ds, err = lode.NewReadDatasetS3(c.Context, rc.Dataset, s3Config(rc))
	default:
		return nil, cli.Exit(fmt.Sprintf("unknown reports backend %q (must be fs or s3)", rc.Backend), exitConfig)
	}
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open reports: %v", err), exitFailure)
	}
	return ds, nil
}
