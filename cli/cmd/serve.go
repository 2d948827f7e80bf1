package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/cli/config"
	"github.com/justapithecus/airlock/device"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/server"
	"github.com/justapithecus/airlock/server/deviceapi"
	"github.com/justapithecus/airlock/uploader"
)

// ServeCommand returns the serve command running the device server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the device server of a station",
		Flags: []cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides server.listen)",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:  "work-dir",
				Usage: "Directory for bundles and disk images (overrides server.work_dir)",
				Value: "/var/lib/airlock/device",
			},
			&cli.StringFlag{
				Name:  "analyzer-url",
				Usage: "Analyzer base URL; empty delivers bundles unscanned (overrides server.analyzer_url)",
			},
			&cli.StringFlag{
				Name:  "uploader",
				Usage: "Path to the airlock-uploader binary (overrides server.uploader.path)",
				Value: "airlock-uploader",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Station name sent to the analyzer (overrides server.source)",
			},
			&cli.StringFlag{
				Name:  "mkfs-dir",
				Usage: "Directory of the mkfs.<fs> tools; empty searches PATH (overrides server.mkfs_dir)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, "device-server", cfg.LogLevel)
	if err != nil {
		return err
	}

	mcfg := managerConfig(c, cfg)
	mcfg.Logger = logger
	mcfg.Metrics = metrics.NewCollector("device", "")
	mgr, err := device.NewManager(mcfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	api, err := deviceapi.New(deviceapi.Config{
		Manager: mgr,
		Name:    cfg.Message.Name,
		Message: config.MessageLoader(c.String("config"), cfg.Message.Text),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := stringOr(c, "listen", cfg.Server.Listen)
	logger.Info("device server starting", map[string]any{
		"addr":     addr,
		"devices":  len(cfg.Devices),
		"analyzer": mcfg.Analyzer != nil,
	})
	if err := server.ListenAndServe(ctx, addr, api, logger); err != nil {
		return cli.Exit(fmt.Sprintf("device server: %v", err), exitFailure)
	}
	logger.Info("device server stopped", nil)
	return nil
}

// managerConfig merges flags over the server section.
func managerConfig(c *cli.Context, cfg *config.Config) device.Config {
	mcfg := device.Config{
		Source:      device.StaticSource(cfg.Devices),
		WorkDir:     stringOr(c, "work-dir", cfg.Server.WorkDir),
		AnalyzePoll: cfg.Server.AnalyzePoll.Duration,
		Uploader: uploader.ProcessConfig{
			WorkerPath: stringOr(c, "uploader", cfg.Server.Uploader.Path),
			Args:       cfg.Server.Uploader.Args,
		},
		Formatter: device.Mkfs{Dir: stringOr(c, "mkfs-dir", cfg.Server.MkfsDir)},
	}
	if u := stringOr(c, "analyzer-url", cfg.Server.AnalyzerURL); u != "" {
		source := stringOr(c, "source", cfg.Server.Source)
		if source == "" {
			source = cfg.Message.Name
		}
		if source == "" {
			source, _ = os.Hostname()
		}
		mcfg.Analyzer = &analyzer.Client{BaseURL: u, Source: source}
	}
	if mcfg.AnalyzePoll <= 0 {
		mcfg.AnalyzePoll = time.Second
	}
	return mcfg
}
