package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/airlock/types"
)

// Config represents an airlock.yaml file. CLI flags override its values.
type Config struct {
	Message  MessageConfig  `yaml:"message"`
	Server   ServerConfig   `yaml:"server"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Devices  []types.Device `yaml:"devices"`
	Notifier NotifierConfig `yaml:"notifier"`
	Reports  ReportsConfig  `yaml:"reports"`
	LogLevel string         `yaml:"log_level"`
}

// MessageConfig is what the device server reports on /status. The file is
// re-read on every status call, so operators can edit the text live.
type MessageConfig struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// ServerConfig configures the device server.
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	WorkDir string `yaml:"work_dir"`
	// AnalyzerURL enables scanning before delivery.
	AnalyzerURL string   `yaml:"analyzer_url"`
	AnalyzePoll Duration `yaml:"analyze_poll"`
	// Source names this station in analyzer requests.
	Source   string         `yaml:"source"`
	Uploader UploaderConfig `yaml:"uploader"`
	// MkfsDir holds the mkfs.<fs> tools used after a wipe. Empty searches PATH.
	MkfsDir string `yaml:"mkfs_dir"`
}

// UploaderConfig locates the sandboxed upload worker.
type UploaderConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args,omitempty"`
}

// AnalyzerConfig configures the analyzer server.
type AnalyzerConfig struct {
	Listen  string `yaml:"listen"`
	WorkDir string `yaml:"work_dir"`
	// Clamd is the clamd address: tcp://host:port or unix:///path.
	Clamd          string `yaml:"clamd"`
	MaxBundleBytes int64  `yaml:"max_bundle_bytes"`
}

// NotifierConfig lists scan-completed event targets. Both may be set.
type NotifierConfig struct {
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RedisConfig configures the redis pub/sub notifier.
type RedisConfig struct {
	URL          string   `yaml:"url"`
	Channel      string   `yaml:"channel,omitempty"`
	AlertChannel string   `yaml:"alert_channel,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty"`
	Retries      *int     `yaml:"retries,omitempty"`
}

// ReportsConfig configures the scan report archive. An empty backend
// disables archiving.
type ReportsConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Report archive backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate reports every problem of the file at once.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Fingerprint == "":
			errs = append(errs, fmt.Errorf("devices[%d]: fingerprint is required", i))
		case seen[d.Fingerprint]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate fingerprint %q", i, d.Fingerprint))
		}
		seen[d.Fingerprint] = true

		switch d.Kind {
		case types.DeviceKindUSB:
			if d.Path == "" && d.Mount == "" {
				errs = append(errs, fmt.Errorf("devices[%d]: usb device needs path or mount", i))
			}
		case types.DeviceKindNetwork:
			if d.URL == "" {
				errs = append(errs, fmt.Errorf("devices[%d]: net device needs url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("devices[%d]: unknown kind %q", i, d.Kind))
		}
	}

	if w := c.Notifier.Webhook; w != nil && w.URL == "" {
		errs = append(errs, errors.New("notifier.webhook: url is required"))
	}
	if r := c.Notifier.Redis; r != nil && r.URL == "" {
		errs = append(errs, errors.New("notifier.redis: url is required"))
	}

	switch c.Reports.Backend {
	case "":
	case BackendFS, BackendS3:
		if c.Reports.Path == "" {
			errs = append(errs, fmt.Errorf("reports: path is required for backend %s", c.Reports.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("reports: unknown backend %q", c.Reports.Backend))
	}
	return errors.Join(errs...)
}
