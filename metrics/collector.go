// Package metrics provides process-wide counters for the analyzer and the
// device server.
//
// The Collector is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so components can run without
// metrics wired in.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Analyzer jobs
	JobsSubmitted int64 `json:"jobs_submitted"`
	JobsScanned   int64 `json:"jobs_scanned"`
	JobsErrored   int64 `json:"jobs_errored"`
	JobsConsumed  int64 `json:"jobs_consumed"`

	// Scan verdicts
	FilesClean   int64 `json:"files_clean"`
	FilesDirty   int64 `json:"files_dirty"`
	OracleErrors int64 `json:"oracle_errors"`

	// Device operations, keyed by operation kind (copy, wipe, imagedisk)
	OperationsStarted map[string]int64 `json:"operations_started"`
	OperationsFailed  map[string]int64 `json:"operations_failed"`

	// Upload worker
	UploadsCompleted int64 `json:"uploads_completed"`
	UploadsFailed    int64 `json:"uploads_failed"`

	// Report archive (per-call, not per-record)
	ReportWriteSuccess int64 `json:"report_write_success"`
	ReportWriteFailure int64 `json:"report_write_failure"`

	// Notifier
	NotifyFailures int64 `json:"notify_failures"`

	// Dimensions (informational, set at construction)
	Role           string `json:"role"`
	StorageBackend string `json:"storage_backend"`
}

// Collector accumulates counters for the lifetime of a process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	jobsSubmitted int64
	jobsScanned   int64
	jobsErrored   int64
	jobsConsumed  int64

	filesClean   int64
	filesDirty   int64
	oracleErrors int64

	opsStarted map[string]int64
	opsFailed  map[string]int64

	uploadsCompleted int64
	uploadsFailed    int64

	reportWriteSuccess int64
	reportWriteFailure int64

	notifyFailures int64

	role           string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// role is "analyzer" or "device"; storageBackend names the report archive
// backend and may be empty.
func NewCollector(role, storageBackend string) *Collector {
	return &Collector{
		opsStarted:     make(map[string]int64),
		opsFailed:      make(map[string]int64),
		role:           role,
		storageBackend: storageBackend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Analyzer jobs ---

// IncJobSubmitted records an accepted bundle.
func (c *Collector) IncJobSubmitted() {
	if c == nil {
		return
	}
	c.inc(&c.jobsSubmitted)
}

// IncJobScanned records a job reaching the scanned status.
func (c *Collector) IncJobScanned() {
	if c == nil {
		return
	}
	c.inc(&c.jobsScanned)
}

// IncJobErrored records a job reaching the error status.
func (c *Collector) IncJobErrored() {
	if c == nil {
		return
	}
	c.inc(&c.jobsErrored)
}

// IncJobConsumed records a terminal result handed to a poller.
func (c *Collector) IncJobConsumed() {
	if c == nil {
		return
	}
	c.inc(&c.jobsConsumed)
}

// --- Verdicts ---

// IncFileClean records a CLEAN verdict.
func (c *Collector) IncFileClean() {
	if c == nil {
		return
	}
	c.inc(&c.filesClean)
}

// IncFileDirty records a DIRTY verdict.
func (c *Collector) IncFileDirty() {
	if c == nil {
		return
	}
	c.inc(&c.filesDirty)
}

// IncOracleError records a scan oracle failure (mapped to DIRTY).
func (c *Collector) IncOracleError() {
	if c == nil {
		return
	}
	c.inc(&c.oracleErrors)
}

// --- Device operations ---

// IncOperationStarted records the start of a device operation.
func (c *Collector) IncOperationStarted(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsStarted[kind]++
	c.mu.Unlock()
}

// IncOperationFailed records a device operation ending in an error event.
func (c *Collector) IncOperationFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsFailed[kind]++
	c.mu.Unlock()
}

// --- Upload worker ---

// IncUploadCompleted records a successful network upload.
func (c *Collector) IncUploadCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.uploadsCompleted)
}

// IncUploadFailed records a failed network upload.
func (c *Collector) IncUploadFailed() {
	if c == nil {
		return
	}
	c.inc(&c.uploadsFailed)
}

// --- Report archive ---

// IncReportWriteSuccess records a successful report write (per-call).
func (c *Collector) IncReportWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.reportWriteSuccess)
}

// IncReportWriteFailure records a failed report write (per-call).
func (c *Collector) IncReportWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.reportWriteFailure)
}

// IncNotifyFailure records a notifier delivery failure.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		JobsSubmitted: c.jobsSubmitted,
		JobsScanned:   c.jobsScanned,
		JobsErrored:   c.jobsErrored,
		JobsConsumed:  c.jobsConsumed,

		FilesClean:   c.filesClean,
		FilesDirty:   c.filesDirty,
		OracleErrors: c.oracleErrors,

		OperationsStarted: copyCounts(c.opsStarted),
		OperationsFailed:  copyCounts(c.opsFailed),

		UploadsCompleted: c.uploadsCompleted,
		UploadsFailed:    c.uploadsFailed,

		ReportWriteSuccess: c.reportWriteSuccess,
		ReportWriteFailure: c.reportWriteFailure,

		NotifyFailures: c.notifyFailures,

		Role:           c.role,
		StorageBackend: c.storageBackend,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
