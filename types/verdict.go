// Package types defines the domain types shared by the airlock services,
// the upload worker and the CLI.
//
//nolint:revive // types is a common Go package naming convention
package types

// Verdict is the scan result for a single file of a bundle.
type Verdict string

// Verdict values reported to clients.
const (
	VerdictClean Verdict = "CLEAN"
	VerdictDirty Verdict = "DIRTY"
)

// JobStatus is the lifecycle status of a bundle scan job.
// Status only moves forward: processing -> scanned | error.
type JobStatus string

// Job status values.
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusScanned    JobStatus = "scanned"
	JobStatusError      JobStatus = "error"
)

// IsTerminal returns true once the job will not change anymore.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusScanned || s == JobStatusError
}

// UploadedStatus is the status returned when a bundle has been accepted.
const UploadedStatus = "uploaded"

// ResultFormatVersion is the version of the terminal scan result payload.
const ResultFormatVersion = 2

// FileResult is the per-file entry of a terminal scan result.
type FileResult struct {
	Status Verdict `json:"status" yaml:"status"`
}

// AntivirusInfo describes the engine that produced a scan result.
type AntivirusInfo struct {
	Version           string  `json:"version" yaml:"version"`
	DatabaseVersion   string  `json:"database_version" yaml:"database_version"`
	DatabaseTimestamp float64 `json:"database_timestamp" yaml:"database_timestamp"`
}

// JobView is what a poller sees for a scan job.
// Files, Version and Antivirus are only set on the terminal (consuming)
// poll; an empty but non-nil Files map is still encoded.
type JobView struct {
	ID        string                   `json:"id" yaml:"id"`
	Status    JobStatus                `json:"status" yaml:"status"`
	Version   int                      `json:"version,omitempty" yaml:"version,omitempty"`
	Files     map[string]FileResult    `json:"files,omitzero" yaml:"files,omitempty"`
	Antivirus map[string]AntivirusInfo `json:"antivirus,omitzero" yaml:"antivirus,omitempty"`
}

// SubmitResponse is returned when a bundle has been accepted for scanning.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
