package lode

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/justapithecus/airlock/types"
)

// RecordKind discriminator values.
const (
	RecordKindReport  = "scan_report"
	RecordKindVerdict = "file_verdict"
)

// ReportRecord is the stored form of a finished scan job.
type ReportRecord struct {
	RecordKind      string `json:"record_kind"`
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Clean           int    `json:"clean"`
	Dirty           int    `json:"dirty"`
	Engine          string `json:"engine,omitempty"`
	EngineVersion   string `json:"engine_version,omitempty"`
	DatabaseVersion string `json:"database_version,omitempty"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	DurationMs      int64  `json:"duration_ms"`

	// Partition keys
	Source string `json:"source"`
	Day    string `json:"day"`
}

// VerdictRecord is the stored form of one file verdict. It carries the job
// status so it lands in the same partition as its report.
type VerdictRecord struct {
	RecordKind string `json:"record_kind"`
	JobID      string `json:"job_id"`
	Path       string `json:"path"`
	Verdict    string `json:"verdict"`

	// Partition keys
	Source string `json:"source"`
	Day    string `json:"day"`
	Status string `json:"status"`
}

// DeriveDay is the partition day of a report: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// toReportRecordMap converts a report to a map; the Hive layout requires
// map[string]any records.
func toReportRecordMap(r *types.ScanReport, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindReport,
		"job_id":      r.ID,
		"status":      string(r.Status),
		"clean":       r.Clean,
		"dirty":       r.Dirty,
		"started_at":  r.StartedAt.UTC().Format(time.RFC3339Nano),
		"ended_at":    r.EndedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": r.EndedAt.Sub(r.StartedAt).Milliseconds(),
		"source":      cfg.Source,
		"day":         DeriveDay(r.EndedAt),
	}
	if r.Engine != "" {
		m["engine"] = r.Engine
		m["engine_version"] = r.Antivirus.Version
		m["database_version"] = r.Antivirus.DatabaseVersion
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

func toVerdictRecordMap(r *types.ScanReport, path string, v types.Verdict, cfg Config) map[string]any {
	return map[string]any{
		"record_kind": RecordKindVerdict,
		"job_id":      r.ID,
		"path":        path,
		"verdict":     string(v),
		"source":      cfg.Source,
		"day":         DeriveDay(r.EndedAt),
		"status":      string(r.Status),
	}
}

// reportRecords is the report record followed by its verdicts in path
// order.
func reportRecords(r *types.ScanReport, cfg Config) []any {
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	records := make([]any, 0, len(paths)+1)
	records = append(records, toReportRecordMap(r, cfg))
	for _, p := range paths {
		records = append(records, toVerdictRecordMap(r, p, r.Files[p], cfg))
	}
	return records
}

// decodeRecord converts a record read back from the dataset.
func decodeRecord[T any](item any) (T, error) {
	var out T
	b, err := json.Marshal(item)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

func recordKind(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["record_kind"].(string)
	return s
}
