package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/config"
	"github.com/justapithecus/airlock/log"
)

// loadConfig reads --config when set. Without a file every value comes
// from flags and defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config %s:\n%v", path, err), exitConfig)
	}
	return cfg, nil
}

// stringOr returns the flag value when set on the command line, else
// the config value, else the flag default.
func stringOr(c *cli.Context, flag, fromConfig string) string {
	if c.IsSet(flag) || fromConfig == "" {
		return c.String(flag)
	}
	return fromConfig
}

// newLogger builds a service logger; --log-level beats the config file.
func newLogger(c *cli.Context, component, fromConfig string) (*log.Logger, error) {
	logger := log.NewLogger(component)
	level := stringOr(c, "log-level", fromConfig)
	if level == "" {
		return logger, nil
	}
	if err := logger.SetLevel(level); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid log level %q: %v", level, err), exitConfig)
	}
	return logger, nil
}
