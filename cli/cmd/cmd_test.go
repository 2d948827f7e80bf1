package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/device"
	"github.com/justapithecus/airlock/types"
)

// runApp runs the airlock app with args and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "airlock",
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       Commands("test"),
	}
	err := app.RunContext(t.Context(), append([]string{"airlock"}, args...))
	return out.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestClientFlags_IncludesServer(t *testing.T) {
	var names []string
	for _, f := range ClientFlags(&cli.BoolFlag{Name: "quick"}) {
		names = append(names, f.Names()[0])
	}
	if got := strings.Join(names, ","); got != "format,no-color,tui,server,quick" {
		t.Errorf("ClientFlags() = %s", got)
	}
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Commit != "test" {
		t.Errorf("version = %+v", resp)
	}
}

func TestUnsupportedTUI(t *testing.T) {
	for _, args := range [][]string{
		{"version", "--tui"},
		{"devices", "--tui"},
		{"reports", "list", "--tui", "--reports-path", t.TempDir()},
	} {
		if _, err := runApp(t, args...); exitCode(err) != exitConfig {
			t.Errorf("%v exit code = %d, want %d (%v)", args, exitCode(err), exitConfig, err)
		}
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airlock.yaml")
	if err := os.WriteFile(path, []byte("devices:\n  - kind: usb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runApp(t, "serve", "--config", path)
	if exitCode(err) != exitConfig || !strings.Contains(err.Error(), "fingerprint is required") {
		t.Errorf("serve with invalid config = %v, want config exit", err)
	}
}

func TestManagerConfig_FlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "airlock.yaml")
	yaml := `message:
  name: station-9
server:
  work_dir: /from/config
  analyzer_url: http://analyzer:8042
  analyze_poll: 250ms
  mkfs_dir: /sbin
  uploader:
    path: /usr/libexec/airlock-uploader
    args: [--log-level, debug]
devices:
  - fingerprint: soc
    kind: net
    url: https://soc.example.com/api/uploadbundle
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	var got device.Config
	serve := ServeCommand()
	serve.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		got = managerConfig(c, cfg)
		return nil
	}
	app := &cli.App{
		Name:           "airlock",
		Writer:         io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       []*cli.Command{serve},
	}
	if err := app.RunContext(t.Context(), []string{"airlock", "serve", "--config", path, "--work-dir", dir}); err != nil {
		t.Fatalf("serve: %v", err)
	}

	if got.WorkDir != dir {
		t.Errorf("WorkDir = %q, want flag value %q", got.WorkDir, dir)
	}
	if got.Analyzer == nil || got.Analyzer.BaseURL != "http://analyzer:8042" || got.Analyzer.Source != "station-9" {
		t.Errorf("Analyzer = %+v, want config URL with station name as source", got.Analyzer)
	}
	if got.AnalyzePoll.Milliseconds() != 250 {
		t.Errorf("AnalyzePoll = %v, want 250ms", got.AnalyzePoll)
	}
	if got.Uploader.WorkerPath != "/usr/libexec/airlock-uploader" || len(got.Uploader.Args) != 2 {
		t.Errorf("Uploader = %+v", got.Uploader)
	}
	if mkfs, ok := got.Formatter.(device.Mkfs); !ok || mkfs.Dir != "/sbin" {
		t.Errorf("Formatter = %#v, want mkfs from /sbin", got.Formatter)
	}
	devs, err := got.Source.Devices(t.Context())
	if err != nil || len(devs) != 1 || devs[0].Fingerprint != "soc" {
		t.Errorf("Source.Devices() = %v, %v", devs, err)
	}
}
