package lode

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/justapithecus/airlock/types"
)

func testReport(id string, status types.JobStatus, ended time.Time, files map[string]types.Verdict) *types.ScanReport {
	r := &types.ScanReport{
		ID:        id,
		Status:    status,
		Files:     files,
		Engine:    "ClamAV",
		Antivirus: types.AntivirusInfo{Version: "1.0.5", DatabaseVersion: "27400"},
		StartedAt: ended.Add(-1500 * time.Millisecond),
		EndedAt:   ended,
	}
	r.CountVerdicts()
	return r
}

func TestArchive_WriteAndFind(t *testing.T) {
	a, err := NewArchive(Config{Source: "station-1"}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	ended := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	report := testReport("job-1", types.JobStatusScanned, ended, map[string]types.Verdict{
		"b.exe": types.VerdictDirty,
		"a.txt": types.VerdictClean,
		"c":     types.VerdictClean,
	})
	if err := a.WriteReport(t.Context(), report); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	got, verdicts, err := FindReport(t.Context(), a.dataset, "job-1")
	if err != nil {
		t.Fatalf("FindReport: %v", err)
	}
	if got.Status != "scanned" || got.Clean != 2 || got.Dirty != 1 {
		t.Errorf("report = %+v, want scanned 2 clean 1 dirty", got)
	}
	if got.Day != "2026-03-14" || got.Source != "station-1" {
		t.Errorf("partition = %s/%s, want station-1/2026-03-14", got.Source, got.Day)
	}
	if got.DurationMs != 1500 {
		t.Errorf("duration_ms = %d, want 1500", got.DurationMs)
	}
	if got.EngineVersion != "1.0.5" || got.DatabaseVersion != "27400" {
		t.Errorf("engine = %s/%s, want 1.0.5/27400", got.EngineVersion, got.DatabaseVersion)
	}

	var paths []string
	for _, v := range verdicts {
		paths = append(paths, v.Path+"="+v.Verdict)
	}
	if want := "a.txt=CLEAN,b.exe=DIRTY,c=CLEAN"; strings.Join(paths, ",") != want {
		t.Errorf("verdicts = %s, want %s", strings.Join(paths, ","), want)
	}

	if _, _, err := FindReport(t.Context(), a.dataset, "job-2"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("FindReport(unknown) error = %v, want ErrReportNotFound", err)
	}
}

func TestArchive_RejectsMissingID(t *testing.T) {
	a, err := NewArchive(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	for _, r := range []*types.ScanReport{nil, {}} {
		if err := a.WriteReport(t.Context(), r); !errors.Is(err, ErrMissingJobID) {
			t.Errorf("WriteReport(%v) error = %v, want ErrMissingJobID", r, err)
		}
	}
}

func TestArchive_ErrorJobKeepsMessage(t *testing.T) {
	a, err := NewArchive(Config{Source: "s"}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	r := testReport("job-err", types.JobStatusError, time.Now(), map[string]types.Verdict{})
	r.Error = "unpack: not a tar archive"
	if err := a.WriteReport(t.Context(), r); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	got, verdicts, err := FindReport(t.Context(), a.dataset, "job-err")
	if err != nil {
		t.Fatalf("FindReport: %v", err)
	}
	if got.Error != r.Error {
		t.Errorf("error = %q, want %q", got.Error, r.Error)
	}
	if len(verdicts) != 0 {
		t.Errorf("verdicts = %d, want 0", len(verdicts))
	}
}

func TestQueryReports(t *testing.T) {
	a, err := NewArchive(Config{Source: "station-1"}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day10 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	reports := []*types.ScanReport{
		testReport("j1", types.JobStatusScanned, day1, map[string]types.Verdict{"a": types.VerdictClean}),
		testReport("j2", types.JobStatusError, day1, map[string]types.Verdict{}),
		testReport("j3", types.JobStatusScanned, day10, map[string]types.Verdict{"x": types.VerdictDirty}),
	}
	for _, r := range reports {
		if err := a.WriteReport(t.Context(), r); err != nil {
			t.Fatalf("WriteReport(%s): %v", r.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"j3", "j2", "j1"}},
		{"exact day", Filter{Day: "2026-01-01"}, []string{"j2", "j1"}},
		{"status", Filter{Status: "scanned"}, []string{"j3", "j1"}},
		{"limit", Filter{Limit: 1}, []string{"j3"}},
		{"other source", Filter{Source: "station-2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QueryReports(t.Context(), a.dataset, tt.filter)
			if err != nil {
				t.Fatalf("QueryReports: %v", err)
			}
			var ids []string
			for _, r := range got {
				ids = append(ids, r.JobID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestQueryReports_Empty(t *testing.T) {
	ds, err := NewReadDataset("", lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	got, err := QueryReports(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("QueryReports: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("reports = %v, want empty non-nil", got)
	}
}

func TestFSArchive_HivePaths(t *testing.T) {
	root := t.TempDir()
	a, err := NewFSArchive(Config{Source: "station-1"}, root)
	if err != nil {
		t.Fatalf("NewFSArchive: %v", err)
	}
	ended := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if err := a.WriteReport(t.Context(), testReport("job-fs", types.JobStatusScanned, ended, nil)); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	var found bool
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(p)
		if matchesPartitionValue(rel, "source", "station-1") &&
			matchesPartitionValue(rel, "day", "2026-02-03") &&
			matchesPartitionValue(rel, "status", "scanned") {
			found = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if !found {
		t.Error("no file under source=station-1/day=2026-02-03/status=scanned")
	}

	// A second handle over the same root sees the report.
	ds, err := NewReadDataset("", lode.NewFSFactory(root))
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	if _, _, err := FindReport(t.Context(), ds, "job-fs"); err != nil {
		t.Errorf("FindReport via read dataset: %v", err)
	}
}

func TestS3Archive_MockBackend(t *testing.T) {
	mock := lodes3.NewMockS3Client()
	s3cfg := S3Config{Bucket: "reports", Prefix: "airlock"}
	a, err := NewArchive(Config{Source: "station-1"}, s3Factory(mock, s3cfg))
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	r := testReport("job-s3", types.JobStatusScanned, time.Now(), map[string]types.Verdict{"f": types.VerdictClean})
	if err := a.WriteReport(t.Context(), r); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	ds, err := NewReadDataset("", s3Factory(mock, s3cfg))
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	got, _, err := FindReport(t.Context(), ds, "job-s3")
	if err != nil {
		t.Fatalf("FindReport: %v", err)
	}
	if got.Clean != 1 {
		t.Errorf("clean = %d, want 1", got.Clean)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/reports", "bucket", "reports"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q, want %q, %q", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("Validate() without bucket succeeded")
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/airlock/partitions/source=s/day=2026-01-10/status=scanned/segments/x/data.jsonl"
	if matchesPartitionValue(path, "day", "2026-01-1") {
		t.Error("prefix value matched")
	}
	if !matchesPartitionValue(path, "day", "2026-01-10") {
		t.Error("exact value did not match")
	}
}
