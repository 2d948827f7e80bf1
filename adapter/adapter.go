// Package adapter defines the notification boundary for finished scans.
//
// Adapters publish scan completion events to downstream systems such as a
// SOC webhook or a Redis channel watched by the transfer stations.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/airlock/types"
)

// EventTypeScanCompleted is the event_type of ScanCompletedEvent.
const EventTypeScanCompleted = "scan_completed"

// ScanCompletedEvent is the payload published when a scan job reaches a
// terminal status.
type ScanCompletedEvent struct {
	ContractVersion string   `json:"contract_version"`
	EventType       string   `json:"event_type"` // always "scan_completed"
	JobID           string   `json:"job_id"`
	Status          string   `json:"status"` // scanned or error
	Clean           int      `json:"clean"`
	Dirty           int      `json:"dirty"`
	DirtyFiles      []string `json:"dirty_files,omitempty"`
	Engine          string   `json:"engine,omitempty"`
	EngineVersion   string   `json:"engine_version,omitempty"`
	DatabaseVersion string   `json:"database_version,omitempty"`
	Timestamp       string   `json:"timestamp"` // ISO 8601
	DurationMs      int64    `json:"duration_ms"`
}

// NewScanCompletedEvent builds the event for a finished scan report.
func NewScanCompletedEvent(r *types.ScanReport) *ScanCompletedEvent {
	var dirty []string
	for path, v := range r.Files {
		if v == types.VerdictDirty {
			dirty = append(dirty, path)
		}
	}
	sort.Strings(dirty)

	return &ScanCompletedEvent{
		ContractVersion: types.Version,
		EventType:       EventTypeScanCompleted,
		JobID:           r.ID,
		Status:          string(r.Status),
		Clean:           r.Clean,
		Dirty:           r.Dirty,
		DirtyFiles:      dirty,
		Engine:          r.Engine,
		EngineVersion:   r.Antivirus.Version,
		DatabaseVersion: r.Antivirus.DatabaseVersion,
		Timestamp:       r.EndedAt.UTC().Format(time.RFC3339),
		DurationMs:      r.EndedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

// Adapter publishes scan completion events to a downstream system.
type Adapter interface {
	// Publish sends a scan completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ScanCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff sleeps before retry attempt n (n >= 1): 500ms, 1s, 2s, ...
func Backoff(ctx context.Context, n int) error {
	d := time.Duration(1<<uint(n-1)) * 500 * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Multi fans an event out to several adapters. Every adapter is tried;
// the returned error joins the individual failures.
type Multi []Adapter

// Publish publishes the event to every adapter.
func (m Multi) Publish(ctx context.Context, event *ScanCompletedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
