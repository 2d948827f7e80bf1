// Package redis publishes scan completion events on Redis pub/sub.
//
// Every event goes to the main channel. Jobs with dirty files are also
// published on the alert channel when one is configured, so that an
// operator console can subscribe to detections only.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/airlock/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "airlock:scan_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel receives every event (default airlock:scan_completed).
	Channel string
	// AlertChannel additionally receives events with dirty files.
	AlertChannel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes scan completion events via Redis PUBLISH.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// channels returns the channels an event is published on.
func (a *Adapter) channels(event *adapter.ScanCompletedEvent) []string {
	chans := []string{a.cfg.Channel}
	if a.cfg.AlertChannel != "" && event.Dirty > 0 {
		chans = append(chans, a.cfg.AlertChannel)
	}
	return chans
}

// Publish sends the event as JSON, retrying each channel with exponential
// backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ScanCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	for _, ch := range a.channels(event) {
		if err := a.publish(ctx, ch, body); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) publish(ctx context.Context, channel string, body []byte) error {
	attempts := 1 + a.cfg.Retries
	var lastErr error
	for i := range attempts {
		if i > 0 {
			if err := adapter.Backoff(ctx, i); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		pctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		lastErr = a.client.Publish(pctx, channel, body).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis: publish %s failed after %d attempts: %w", channel, attempts, lastErr)
}

// Close releases the client connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
