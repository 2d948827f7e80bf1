package analyzer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/airlock/types"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	if err := tr.Submit("j1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := tr.Submit("j1"); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("Submit() duplicate error = %v, want %v", err, ErrDuplicateJob)
	}

	tr.Record("j1", "a.txt", types.VerdictClean)
	st, err := tr.Poll("j1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Status != types.JobStatusProcessing {
		t.Errorf("Status = %s, want processing", st.Status)
	}
	if st.Files != nil {
		t.Errorf("Files = %v, want nil while processing", st.Files)
	}

	tr.Finish("j1", types.JobStatusScanned)
	tr.Record("j1", "late.txt", types.VerdictDirty)

	st, err = tr.Poll("j1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Status != types.JobStatusScanned {
		t.Errorf("Status = %s, want scanned", st.Status)
	}
	if len(st.Files) != 1 || st.Files["a.txt"] != types.VerdictClean {
		t.Errorf("Files = %v, want only a.txt CLEAN", st.Files)
	}

	if _, err := tr.Poll("j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Poll() error = %v, want %v", err, ErrNotFound)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTracker_ErrorClearsFiles(t *testing.T) {
	tr := NewTracker()
	_ = tr.Submit("j")
	tr.Record("j", "a", types.VerdictDirty)
	tr.Finish("j", types.JobStatusError)

	st, err := tr.Poll("j")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Status != types.JobStatusError || len(st.Files) != 0 || st.Files == nil {
		t.Errorf("Poll() = %+v, want error with empty non-nil files", st)
	}
}

func TestTracker_StatusNeverMovesBack(t *testing.T) {
	tr := NewTracker()
	_ = tr.Submit("j")
	tr.Finish("j", types.JobStatusProcessing)
	tr.Finish("j", types.JobStatusError)
	tr.Finish("j", types.JobStatusScanned)

	st, _ := tr.Poll("j")
	if st.Status != types.JobStatusError {
		t.Errorf("Status = %s, want error", st.Status)
	}
}

func TestTracker_UnknownJob(t *testing.T) {
	tr := NewTracker()
	tr.Record("nope", "a", types.VerdictClean)
	tr.Finish("nope", types.JobStatusScanned)
	if _, err := tr.Poll("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Poll() error = %v, want %v", err, ErrNotFound)
	}
}

func TestTracker_TerminalPollIsExactlyOnce(t *testing.T) {
	tr := NewTracker()
	_ = tr.Submit("j")
	tr.Finish("j", types.JobStatusScanned)

	var (
		wg       sync.WaitGroup
		terminal atomic.Int32
		missing  atomic.Int32
	)
	for range 32 {
		wg.Go(func() {
			st, err := tr.Poll("j")
			switch {
			case errors.Is(err, ErrNotFound):
				missing.Add(1)
			case err == nil && st.Status.IsTerminal():
				terminal.Add(1)
			}
		})
	}
	wg.Wait()

	if terminal.Load() != 1 {
		t.Errorf("terminal observations = %d, want 1", terminal.Load())
	}
	if missing.Load() != 31 {
		t.Errorf("not found = %d, want 31", missing.Load())
	}
}
