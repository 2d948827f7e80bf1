package uploader

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/justapithecus/airlock/ipc"
	"github.com/justapithecus/airlock/sandbox"
)

type fakeConfiner struct {
	mu       sync.Mutex
	policies []sandbox.Policy
	err      error
}

func (f *fakeConfiner) Apply(p sandbox.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies = append(f.policies, p)
	return f.err
}

type harness struct {
	peer     *ipc.PeerConn
	reqW     *io.PipeWriter
	done     chan error
	confiner *fakeConfiner
}

func startWorker(t *testing.T, tarPath string, confErr error) *harness {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	confiner := &fakeConfiner{err: confErr}

	w := NewWorker(ipc.NewWorkerConn(reqR, respW), WorkerConfig{
		TarPath:  tarPath,
		Confiner: confiner,
	})

	done := make(chan error, 1)
	go func() {
		err := w.Run(t.Context())
		_ = respW.Close()
		done <- err
	}()
	t.Cleanup(func() {
		_ = reqW.Close()
		_ = respR.Close()
	})

	return &harness{
		peer:     ipc.NewPeerConn(reqW, respR),
		reqW:     reqW,
		done:     done,
		confiner: confiner,
	}
}

func (h *harness) send(t *testing.T, req *ipc.Request) {
	t.Helper()
	if err := h.peer.Send(req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

// final reads responses until a final one, returning it and the statuses seen.
func (h *harness) final(t *testing.T) (*ipc.Response, []ipc.UploadStatus) {
	t.Helper()
	var statuses []ipc.UploadStatus
	for {
		resp, err := h.peer.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if resp.IsFinal() {
			return resp, statuses
		}
		statuses = append(statuses, *resp.Status)
	}
}

func (h *harness) end(t *testing.T) {
	t.Helper()
	h.send(t, &ipc.Request{Type: ipc.RequestEnd})
	resp, _ := h.final(t)
	if resp.Type != ipc.ResponseEnd {
		t.Fatalf("response to end = %q (%s), want end", resp.Type, resp.Message)
	}
	if err := <-h.done; err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}

func uploadReq(id, url string) *ipc.Request {
	return &ipc.Request{Type: ipc.RequestUpload, Upload: &ipc.UploadRequest{ID: id, URL: url}}
}

func writeBundle(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

type recordingServer struct {
	*httptest.Server
	mu     sync.Mutex
	path   string
	body   []byte
	status int
}

func newRecordingServer(t *testing.T, status int) *recordingServer {
	t.Helper()
	rs := &recordingServer{status: status}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.path = r.URL.Path
		rs.body = body
		rs.mu.Unlock()
		w.WriteHeader(rs.status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func TestWorker_UploadOriginalPath(t *testing.T) {
	dir := t.TempDir()
	content := []byte(strings.Repeat("airlock", 20000))
	tarPath := writeBundle(t, dir, "bundle.tar", content)
	srv := newRecordingServer(t, http.StatusOK)

	h := startWorker(t, tarPath, nil)
	if err := h.peer.WriteControl(ipc.UnlockPath); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	h.send(t, uploadReq("job-1", srv.URL+"/api/uploadbundle/"))
	resp, statuses := h.final(t)
	if resp.Type != ipc.ResponseUpload {
		t.Fatalf("final response = %q (%s), want upload", resp.Type, resp.Message)
	}

	if len(statuses) == 0 {
		t.Fatal("no upload_status received")
	}
	last := statuses[len(statuses)-1]
	if last.Current != uint64(len(content)) || last.Total != uint64(len(content)) {
		t.Errorf("last status = %d/%d, want %d/%d", last.Current, last.Total, len(content), len(content))
	}

	srv.mu.Lock()
	if srv.path != "/api/uploadbundle/job-1" {
		t.Errorf("path = %q, want %q", srv.path, "/api/uploadbundle/job-1")
	}
	if string(srv.body) != string(content) {
		t.Errorf("body length = %d, want %d", len(srv.body), len(content))
	}
	srv.mu.Unlock()

	h.end(t)
}

func TestWorker_UploadCleanPath(t *testing.T) {
	dir := t.TempDir()
	tarPath := writeBundle(t, dir, "bundle.tar", []byte("unfiltered"))
	writeBundle(t, dir, "bundle_clean.tar", []byte("filtered"))
	srv := newRecordingServer(t, http.StatusOK)

	h := startWorker(t, tarPath, nil)
	if err := h.peer.WriteControl(ipc.UnlockCleanPath); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	h.send(t, uploadReq("job-2", srv.URL))
	if resp, _ := h.final(t); resp.Type != ipc.ResponseUpload {
		t.Fatalf("final response = %q (%s), want upload", resp.Type, resp.Message)
	}

	srv.mu.Lock()
	if string(srv.body) != "filtered" {
		t.Errorf("body = %q, want %q", srv.body, "filtered")
	}
	srv.mu.Unlock()

	h.end(t)
}

func TestWorker_PolicyAllowList(t *testing.T) {
	dir := t.TempDir()
	tarPath := writeBundle(t, dir, "bundle.tar", []byte("x"))

	h := startWorker(t, tarPath, nil)
	if err := h.peer.WriteControl(ipc.UnlockNone); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}
	h.end(t)

	h.confiner.mu.Lock()
	defer h.confiner.mu.Unlock()
	if len(h.confiner.policies) != 1 {
		t.Fatalf("Apply called %d times, want 1", len(h.confiner.policies))
	}
	p := h.confiner.policies[0]
	if p.Mode != sandbox.ReadOnly {
		t.Errorf("Mode = %v, want ro", p.Mode)
	}
	want := append([]string{tarPath, filepath.Join(dir, "bundle_clean.tar")}, DefaultSystemPaths...)
	if !slices.Equal(p.Paths, want) {
		t.Errorf("Paths = %v, want %v", p.Paths, want)
	}
}

func TestWorker_PolicyExcludesOtherTransfers(t *testing.T) {
	tarPath := "/var/lib/airlock/device/sess-a/aaaa.tar"
	h := startWorker(t, tarPath, nil)
	if err := h.peer.WriteControl(ipc.UnlockNone); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}
	h.end(t)

	h.confiner.mu.Lock()
	p := h.confiner.policies[0]
	h.confiner.mu.Unlock()

	tests := []struct {
		path string
		want bool
	}{
		{tarPath, true},
		{"/var/lib/airlock/device/sess-a/aaaa_clean.tar", true},
		{"/var/lib/airlock/device/sess-a/other.tar", false},
		{"/var/lib/airlock/device/sess-b/bbbb.tar", false},
		{"/var/lib/airlock/device/images/usb-1-1700000000.img", false},
		{"/var/lib/airlock/analyzer/cccc.tar", false},
	}
	for _, tt := range tests {
		if got := p.Covers(tt.path); got != tt.want {
			t.Errorf("Covers(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWorker_NothingToUpload(t *testing.T) {
	for _, unlock := range []ipc.Unlock{ipc.UnlockNone, ipc.Unlock(7)} {
		h := startWorker(t, filepath.Join(t.TempDir(), "bundle.tar"), nil)
		if err := h.peer.WriteControl(unlock); err != nil {
			t.Fatalf("WriteControl failed: %v", err)
		}

		h.send(t, uploadReq("job-3", "http://127.0.0.1:1"))
		resp, _ := h.final(t)
		if resp.Type != ipc.ResponseError || resp.Message != WaitEndMessage {
			t.Errorf("unlock %d: response = %q %q, want error %q", unlock, resp.Type, resp.Message, WaitEndMessage)
		}

		h.end(t)
	}
}

func TestWorker_UploadRejected(t *testing.T) {
	dir := t.TempDir()
	tarPath := writeBundle(t, dir, "bundle.tar", []byte("payload"))
	srv := newRecordingServer(t, http.StatusInternalServerError)

	h := startWorker(t, tarPath, nil)
	if err := h.peer.WriteControl(ipc.UnlockPath); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	h.send(t, uploadReq("job-4", srv.URL))
	resp, _ := h.final(t)
	if resp.Type != ipc.ResponseError {
		t.Fatalf("final response = %q, want error", resp.Type)
	}
	if !strings.Contains(resp.Message, "500") {
		t.Errorf("Message = %q, want status code", resp.Message)
	}

	// The worker now drains: a second upload is refused.
	h.send(t, uploadReq("job-4", srv.URL))
	resp, _ = h.final(t)
	if resp.Message != WaitEndMessage {
		t.Errorf("Message = %q, want %q", resp.Message, WaitEndMessage)
	}

	h.end(t)
}

func TestWorker_MissingBundleIsRunError(t *testing.T) {
	h := startWorker(t, filepath.Join(t.TempDir(), "absent.tar"), nil)
	if err := h.peer.WriteControl(ipc.UnlockPath); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	resp, _ := h.final(t)
	if resp.Type != ipc.ResponseError || !strings.HasPrefix(resp.Message, "run error: ") {
		t.Errorf("response = %q %q, want run error", resp.Type, resp.Message)
	}

	h.end(t)
}

func TestWorker_MalformedRequestIsRunError(t *testing.T) {
	h := startWorker(t, filepath.Join(t.TempDir(), "bundle.tar"), nil)
	if err := h.peer.WriteControl(ipc.UnlockNone); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	// 0xc1 is never used by msgpack.
	if err := ipc.NewFrameEncoder(h.reqW).WriteFrame([]byte{0xc1}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	resp, _ := h.final(t)
	if resp.Type != ipc.ResponseError || !strings.HasPrefix(resp.Message, "run error: ") {
		t.Errorf("response = %q %q, want run error", resp.Type, resp.Message)
	}

	h.end(t)
}

func TestWorker_SandboxFailureIsFatal(t *testing.T) {
	confErr := errors.Join(sandbox.ErrSandbox, errors.New("landlock unavailable"))
	h := startWorker(t, filepath.Join(t.TempDir(), "bundle.tar"), confErr)

	resp, _ := h.final(t)
	if resp.Type != ipc.ResponseError {
		t.Errorf("response = %q, want error", resp.Type)
	}

	err := <-h.done
	if !errors.Is(err, sandbox.ErrSandbox) {
		t.Errorf("Run() = %v, want ErrSandbox", err)
	}
}

func TestWorker_PeerClosedIsFatal(t *testing.T) {
	h := startWorker(t, filepath.Join(t.TempDir(), "bundle.tar"), nil)
	if err := h.peer.WriteControl(ipc.UnlockNone); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}
	_ = h.reqW.Close()

	if resp, _ := h.final(t); resp.Type != ipc.ResponseError {
		t.Errorf("response = %q, want error", resp.Type)
	}
	if err := <-h.done; !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Run() = %v, want ErrPeerClosed", err)
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/var/lib/airlock/abc.tar", "/var/lib/airlock/abc_clean.tar"},
		{"/tmp/bundle", "/tmp/bundle_clean.tar"},
	}
	for _, tt := range tests {
		if got := CleanPath(tt.in); got != tt.want {
			t.Errorf("CleanPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "init"},
		{StateRunning, "running"},
		{StateWaitEnd, "wait_end"},
		{StateEnd, "end"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
