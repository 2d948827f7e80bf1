package cmd

import (
	"archive/tar"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/lode"
	"github.com/justapithecus/airlock/server/analyzerapi"
	"github.com/justapithecus/airlock/types"
)

func seedArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	a, err := lode.NewFSArchive(lode.Config{Source: "station-1"}, root)
	if err != nil {
		t.Fatalf("NewFSArchive: %v", err)
	}
	ended := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	for _, r := range []*types.ScanReport{
		{ID: "job-1", Status: types.JobStatusScanned, Files: map[string]types.Verdict{"a.txt": types.VerdictClean}, EndedAt: ended},
		{ID: "job-2", Status: types.JobStatusScanned, Files: map[string]types.Verdict{"x.exe": types.VerdictDirty}, EndedAt: ended.Add(time.Hour)},
	} {
		r.StartedAt = r.EndedAt.Add(-time.Second)
		r.CountVerdicts()
		if err := a.WriteReport(t.Context(), r); err != nil {
			t.Fatalf("WriteReport: %v", err)
		}
	}
	return root
}

func TestReportsList(t *testing.T) {
	root := seedArchive(t)
	out, err := runApp(t, "reports", "list", "--reports-path", root, "--format", "json", "--day", "2026-05-02")
	if err != nil {
		t.Fatalf("reports list: %v", err)
	}
	var got []lode.ReportRecord
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 2 || got[0].JobID != "job-2" || got[1].JobID != "job-1" {
		t.Errorf("reports = %+v, want job-2 then job-1", got)
	}
}

func TestReportsShow(t *testing.T) {
	root := seedArchive(t)
	out, err := runApp(t, "reports", "show", "--reports-path", root, "--format", "json", "job-2")
	if err != nil {
		t.Fatalf("reports show: %v", err)
	}
	var got ReportDetail
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Report.Dirty != 1 || len(got.Verdicts) != 1 || got.Verdicts[0].Path != "x.exe" {
		t.Errorf("detail = %+v", got)
	}

	_, err = runApp(t, "reports", "show", "--reports-path", root, "job-9")
	if exitCode(err) != exitFailure || !strings.Contains(err.Error(), "not found") {
		t.Errorf("show unknown = %v, want not found failure", err)
	}
}

func TestReports_NeedsArchive(t *testing.T) {
	_, err := runApp(t, "reports", "list")
	if exitCode(err) != exitConfig {
		t.Errorf("reports list without archive exit = %d, want %d", exitCode(err), exitConfig)
	}
	_, err = runApp(t, "reports", "list", "--reports-backend", "tape", "--reports-path", "x")
	if exitCode(err) != exitConfig {
		t.Errorf("unknown backend exit = %d, want %d", exitCode(err), exitConfig)
	}
}

// namedOracle flags files whose name contains "eicar".
type namedOracle struct{}

func (namedOracle) Scan(_ context.Context, path string) (analyzer.Outcome, error) {
	if strings.Contains(filepath.Base(path), "eicar") {
		return analyzer.Outcome{Infected: true, Signature: "Eicar-Test-Signature"}, nil
	}
	return analyzer.Outcome{}, nil
}

func (namedOracle) Info(context.Context) (analyzer.EngineInfo, error) {
	return analyzer.EngineInfo{Name: "ClamAV", Version: "1.0.5", DatabaseVersion: "27400"}, nil
}

func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyze_EndToEnd(t *testing.T) {
	svc, err := analyzer.NewService(analyzer.Config{WorkDir: t.TempDir(), Oracle: namedOracle{}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	api, err := analyzerapi.New(analyzerapi.Config{Service: svc})
	if err != nil {
		t.Fatalf("analyzerapi.New: %v", err)
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tests := []struct {
		name     string
		files    map[string]string
		wantCode int
	}{
		{"clean", map[string]string{"readme.txt": "hi"}, exitSuccess},
		{"dirty", map[string]string{"readme.txt": "hi", "eicar.com": "X5O!"}, exitDirty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := writeBundle(t, tt.files)
			out, err := runApp(t, "analyze", "--analyzer", srv.URL, "--poll", "10ms", "--format", "json", bundle)
			if exitCode(err) != tt.wantCode {
				t.Fatalf("analyze exit = %d (%v), want %d", exitCode(err), err, tt.wantCode)
			}
			var view types.JobView
			if err := json.Unmarshal([]byte(out), &view); err != nil {
				t.Fatalf("decode %q: %v", out, err)
			}
			if view.Status != types.JobStatusScanned || len(view.Files) != len(tt.files) {
				t.Errorf("view = %+v", view)
			}
		})
	}
}
