// Package analyzer scans submitted bundles in the background and hands each
// terminal result out exactly once.
package analyzer

import (
	"errors"
	"sync"

	"github.com/justapithecus/airlock/types"
)

// ErrNotFound is returned for unknown or already consumed jobs.
var ErrNotFound = errors.New("job not found")

// ErrDuplicateJob is returned when submitting an id that is still tracked.
var ErrDuplicateJob = errors.New("job already exists")

type job struct {
	status types.JobStatus
	files  map[string]types.Verdict
}

// JobState is a copy of a tracked job.
type JobState struct {
	ID     string
	Status types.JobStatus
	Files  map[string]types.Verdict
}

// Tracker is the table of scan jobs.
// Every accessor holds the lock for a single read or update only.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*job
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*job)}
}

// Submit registers a processing job.
func (t *Tracker) Submit(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; ok {
		return ErrDuplicateJob
	}
	t.jobs[id] = &job{status: types.JobStatusProcessing, files: make(map[string]types.Verdict)}
	return nil
}

// Record stores the verdict of one file. Unknown or terminal jobs are
// ignored.
func (t *Tracker) Record(id, path string, verdict types.Verdict) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || j.status.IsTerminal() {
		return
	}
	j.files[path] = verdict
}

// Finish moves a job to a terminal status. An error status discards the
// verdicts recorded so far. Status never moves backwards: finishing a
// terminal job is a no-op.
func (t *Tracker) Finish(id string, status types.JobStatus) {
	if !status.IsTerminal() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || j.status.IsTerminal() {
		return
	}
	j.status = status
	if status == types.JobStatusError {
		j.files = make(map[string]types.Verdict)
	}
}

// Poll returns the job state. A terminal job is removed in the same
// critical section, so exactly one caller ever observes it.
func (t *Tracker) Poll(id string) (JobState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return JobState{}, ErrNotFound
	}
	if !j.status.IsTerminal() {
		return JobState{ID: id, Status: j.status}, nil
	}
	delete(t.jobs, id)
	return JobState{ID: id, Status: j.status, Files: j.files}, nil
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
