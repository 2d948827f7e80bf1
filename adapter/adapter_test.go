package adapter

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/justapithecus/airlock/types"
)

func TestNewScanCompletedEvent(t *testing.T) {
	start := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	r := &types.ScanReport{
		ID:     "abc",
		Status: types.JobStatusScanned,
		Files: map[string]types.Verdict{
			"z.bin": types.VerdictDirty,
			"a.txt": types.VerdictClean,
			"b.exe": types.VerdictDirty,
		},
		Clean:     1,
		Dirty:     2,
		Engine:    "ClamAV",
		Antivirus: types.AntivirusInfo{Version: "1.0.5", DatabaseVersion: "27400"},
		StartedAt: start,
		EndedAt:   start.Add(1500 * time.Millisecond),
	}

	ev := NewScanCompletedEvent(r)
	if ev.EventType != EventTypeScanCompleted {
		t.Errorf("EventType = %s, want %s", ev.EventType, EventTypeScanCompleted)
	}
	if ev.ContractVersion != types.Version {
		t.Errorf("ContractVersion = %s, want %s", ev.ContractVersion, types.Version)
	}
	if ev.Status != "scanned" {
		t.Errorf("Status = %s, want scanned", ev.Status)
	}
	if !slices.Equal(ev.DirtyFiles, []string{"b.exe", "z.bin"}) {
		t.Errorf("DirtyFiles = %v, want [b.exe z.bin]", ev.DirtyFiles)
	}
	if ev.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", ev.DurationMs)
	}
	if ev.Timestamp != "2026-02-07T12:00:01Z" {
		t.Errorf("Timestamp = %s", ev.Timestamp)
	}
	if ev.EngineVersion != "1.0.5" || ev.DatabaseVersion != "27400" {
		t.Errorf("engine = %s/%s", ev.EngineVersion, ev.DatabaseVersion)
	}
}

type recorder struct {
	err    error
	got    int
	closed bool
}

func (r *recorder) Publish(context.Context, *ScanCompletedEvent) error {
	r.got++
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok, bad, last := &recorder{}, &recorder{err: boom}, &recorder{}
	m := Multi{ok, bad, last}

	err := m.Publish(t.Context(), &ScanCompletedEvent{})
	if !errors.Is(err, boom) {
		t.Errorf("Publish() error = %v, want %v", err, boom)
	}
	if ok.got != 1 || bad.got != 1 || last.got != 1 {
		t.Errorf("publish counts = %d %d %d, want 1 1 1", ok.got, bad.got, last.got)
	}

	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() error = %v, want %v", err, boom)
	}
	if !ok.closed || !last.closed {
		t.Error("Close() did not close every adapter")
	}
}

func TestBackoff_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := Backoff(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Backoff() error = %v, want context.Canceled", err)
	}
}
