package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dutchcoders/go-clamd"

	"github.com/justapithecus/airlock/iox"
)

// ClamdEngineName is the engine key used in scan results.
const ClamdEngineName = "ClamAV"

// clamdDateLayout is the database date format of the VERSION reply.
const clamdDateLayout = "Mon Jan _2 15:04:05 2006"

// Clamd is an Oracle backed by a clamd daemon.
// Files are streamed with INSTREAM so clamd never needs access to the
// analyzer's work directory.
type Clamd struct {
	client *clamd.Clamd
}

// NewClamd returns a clamd oracle. address is "tcp://host:port",
// "unix:///path" or a bare socket path.
func NewClamd(address string) *Clamd {
	return &Clamd{client: clamd.NewClamd(address)}
}

// Ping checks that the daemon answers.
func (c *Clamd) Ping() error {
	return c.client.Ping()
}

// Scan implements Oracle.
func (c *Clamd) Scan(ctx context.Context, path string) (Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return Outcome{}, &OracleError{Path: path, Err: err}
	}
	defer iox.DiscardClose(f)

	abort := make(chan bool)
	var once sync.Once
	closeAbort := func() { once.Do(func() { close(abort) }) }
	stop := context.AfterFunc(ctx, closeAbort)
	defer func() {
		stop()
		closeAbort()
	}()

	results, err := c.client.ScanStream(f, abort)
	if err != nil {
		return Outcome{}, &OracleError{Path: path, Err: err}
	}

	var (
		out     Outcome
		seen    bool
		failure error
	)
	// Drain every reply so the library's reader goroutine can exit.
	for res := range results {
		seen = true
		switch res.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			out.Infected = true
			out.Signature = res.Description
		default:
			if failure == nil {
				failure = fmt.Errorf("clamd: %s", res.Raw)
			}
		}
	}
	if failure != nil {
		return Outcome{}, &OracleError{Path: path, Err: failure}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, &OracleError{Path: path, Err: err}
	}
	if !seen {
		return Outcome{}, &OracleError{Path: path, Err: errors.New("clamd: no reply")}
	}
	return out, nil
}

// Info implements Oracle using the VERSION command.
func (c *Clamd) Info(_ context.Context) (EngineInfo, error) {
	results, err := c.client.Version()
	if err != nil {
		return EngineInfo{}, fmt.Errorf("clamd version: %w", err)
	}
	var raw string
	for res := range results {
		if raw == "" {
			raw = res.Raw
		}
	}
	if raw == "" {
		return EngineInfo{}, errors.New("clamd version: no reply")
	}
	return parseClamdVersion(raw)
}

// parseClamdVersion parses "ClamAV 1.0.5/27400/Tue Sep 10 08:22:35 2024".
// Without a loaded database clamd only answers "ClamAV 1.0.5".
func parseClamdVersion(raw string) (EngineInfo, error) {
	parts := strings.SplitN(raw, "/", 3)
	name, version, ok := strings.Cut(parts[0], " ")
	if !ok || name != ClamdEngineName {
		return EngineInfo{}, fmt.Errorf("unexpected clamd version %q", raw)
	}

	info := EngineInfo{Name: name, Version: version}
	if len(parts) == 3 {
		info.DatabaseVersion = parts[1]
		ts, err := time.Parse(clamdDateLayout, parts[2])
		if err != nil {
			return EngineInfo{}, fmt.Errorf("clamd database date %q: %w", parts[2], err)
		}
		info.DatabaseTimestamp = float64(ts.Unix())
	}
	return info, nil
}
