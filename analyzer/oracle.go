package analyzer

import (
	"context"
	"fmt"
)

// Outcome is the oracle's answer for one file.
type Outcome struct {
	// Infected is true when a signature matched.
	Infected bool
	// Signature names the match, empty when clean.
	Signature string
}

// EngineInfo describes the scan engine and its signature database.
type EngineInfo struct {
	Name              string
	Version           string
	DatabaseVersion   string
	DatabaseTimestamp float64
}

// Oracle scans single files.
// An error means the file could not be scanned; the caller treats it as
// dirty.
type Oracle interface {
	Scan(ctx context.Context, path string) (Outcome, error)
	Info(ctx context.Context) (EngineInfo, error)
}

// OracleError wraps a scan engine failure.
type OracleError struct {
	Path string
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}
