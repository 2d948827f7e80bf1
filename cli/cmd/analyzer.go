package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/airlock/adapter"
	"github.com/justapithecus/airlock/adapter/redis"
	"github.com/justapithecus/airlock/adapter/webhook"
	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/cli/config"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/lode"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/server"
	"github.com/justapithecus/airlock/server/analyzerapi"
)

// oracleCheckInterval is the clamd liveness probe period.
const oracleCheckInterval = 30 * time.Second

// AnalyzerCommand returns the analyzer command running the scan server.
func AnalyzerCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyzer",
		Usage: "Run the analyzer server scanning bundles with clamd",
		Flags: []cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides analyzer.listen)",
				Value: ":8042",
			},
			&cli.StringFlag{
				Name:  "work-dir",
				Usage: "Directory for submitted bundles and artifacts (overrides analyzer.work_dir)",
				Value: "/var/lib/airlock/analyzer",
			},
			&cli.StringFlag{
				Name:  "clamd",
				Usage: "clamd address, tcp://host:port or unix:///path (overrides analyzer.clamd)",
				Value: "unix:///run/clamav/clamd.ctl",
			},
			&cli.Int64Flag{
				Name:  "max-bundle-bytes",
				Usage: "Largest accepted request body (overrides analyzer.max_bundle_bytes)",
			},
		},
		Action: analyzerAction,
	}
}

func analyzerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, "analyzer", cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := buildNotifier(cfg.Notifier)
	if err != nil {
		return cli.Exit(fmt.Sprintf("notifier: %v", err), exitConfig)
	}
	if notifier != nil {
		defer iox.DiscardClose(notifier)
	}

	archive, err := buildArchive(ctx, cfg.Reports, cfg.Message.Name)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reports: %v", err), exitConfig)
	}
	var reports analyzer.ReportWriter
	if archive != nil {
		defer iox.DiscardClose(archive)
		reports = archive
	}

	collector := metrics.NewCollector("analyzer", cfg.Reports.Backend)
	oracle := analyzer.NewClamd(stringOr(c, "clamd", cfg.Analyzer.Clamd))
	svc, err := analyzer.NewService(analyzer.Config{
		WorkDir:  stringOr(c, "work-dir", cfg.Analyzer.WorkDir),
		Oracle:   oracle,
		Logger:   logger,
		Metrics:  collector,
		Notifier: notifier,
		Reports:  reports,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	maxBytes := cfg.Analyzer.MaxBundleBytes
	if c.IsSet("max-bundle-bytes") {
		maxBytes = c.Int64("max-bundle-bytes")
	}
	api, err := analyzerapi.New(analyzerapi.Config{
		Service:        svc,
		Metrics:        collector,
		Logger:         logger,
		MaxBundleBytes: maxBytes,
	})
	if err != nil {
		return err
	}

	addr := stringOr(c, "listen", cfg.Analyzer.Listen)
	logger.Info("analyzer starting", map[string]any{
		"addr":     addr,
		"notifier": notifier != nil,
		"reports":  cfg.Reports.Backend,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr, api, logger)
	})
	g.Go(func() error {
		watchOracle(gctx, oracle, logger, oracleCheckInterval)
		return nil
	})
	err = g.Wait()

	// In-flight scans still publish and archive their reports.
	_ = svc.Close()
	if err != nil {
		return cli.Exit(fmt.Sprintf("analyzer: %v", err), exitFailure)
	}
	logger.Info("analyzer stopped", nil)
	return nil
}

// pinger is the liveness probe of an oracle.
type pinger interface {
	Ping() error
}

// watchOracle logs oracle availability changes until ctx is done.
func watchOracle(ctx context.Context, p pinger, logger *log.Logger, every time.Duration) {
	healthy := true
	check := func() {
		err := p.Ping()
		switch {
		case err != nil && healthy:
			logger.Warn("scan engine unreachable", map[string]any{"error": err.Error()})
		case err == nil && !healthy:
			logger.Info("scan engine reachable again", nil)
		}
		healthy = err == nil
	}
	check()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// buildNotifier returns nil when no target is configured.
func buildNotifier(cfg config.NotifierConfig) (adapter.Adapter, error) {
	var targets adapter.Multi
	if w := cfg.Webhook; w != nil {
		a, err := webhook.New(webhook.Config{
			URL:     w.URL,
			Headers: w.Headers,
			Secret:  w.Secret,
			Timeout: w.Timeout.Duration,
			Retries: retriesOr(w.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	if r := cfg.Redis; r != nil {
		a, err := redis.New(redis.Config{
			URL:          r.URL,
			Channel:      r.Channel,
			AlertChannel: r.AlertChannel,
			Timeout:      r.Timeout.Duration,
			Retries:      retriesOr(r.Retries, redis.DefaultRetries),
		})
		if err != nil {
			return nil, errors.Join(err, targets.Close())
		}
		targets = append(targets, a)
	}
	switch len(targets) {
	case 0:
		return nil, nil
	case 1:
		return targets[0], nil
	default:
		return targets, nil
	}
}

func retriesOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// buildArchive returns nil when archiving is disabled.
func buildArchive(ctx context.Context, cfg config.ReportsConfig, station string) (*lode.Archive, error) {
	acfg := lode.Config{Dataset: cfg.Dataset, Source: station}
	switch cfg.Backend {
	case "":
		return nil, nil
	case config.BackendFS:
		return lode.NewFSArchive(acfg, cfg.Path)
	case config.BackendS3:
		return lode.NewS3Archive(ctx, acfg, s3Config(cfg))
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func s3Config(cfg config.ReportsConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(cfg.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	}
}
