// Package analyzerapi exposes the analyzer service over HTTP.
//
// Routes:
//
//	POST /api/scanbundle/{id}                   submit a bundle for scanning
//	GET  /api/scanbundle/{id}/{bundle_id}       poll a scan job
//	POST /api/uploadbundle/{id}                 store a bundle from an upload worker
//	HEAD /api/downloadbundle/{id}/{bundle_id}   uncompressed size probe
//	GET  /api/downloadbundle/{id}/{bundle_id}   fetch a stored bundle
//	GET  /api/metrics                           counters snapshot and job backlog
package analyzerapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/server"
	"github.com/justapithecus/airlock/types"
)

// UncompressedLengthHeader carries the content size of a stored bundle.
const UncompressedLengthHeader = "X-Uncompressed-Content-Length"

// DefaultMaxBundleBytes caps request bodies when Config leaves it unset.
const DefaultMaxBundleBytes int64 = 8 << 30

// Config configures the API.
type Config struct {
	Service *analyzer.Service
	Metrics *metrics.Collector
	Logger  *log.Logger
	// MaxBundleBytes caps submitted and uploaded bodies.
	MaxBundleBytes int64
}

// MetricsResponse is the counters snapshot plus the scan job backlog.
type MetricsResponse struct {
	metrics.Snapshot
	PendingJobs int `json:"pending_jobs"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	ID     string `json:"id"`
	Bundle string `json:"bundle"`
}

// API serves the analyzer routes.
type API struct {
	cfg    Config
	logger *log.Logger
	mux    *http.ServeMux
}

// New returns an API over svc.
func New(cfg Config) (*API, error) {
	if cfg.Service == nil {
		return nil, errors.New("analyzerapi: service is required")
	}
	if cfg.MaxBundleBytes <= 0 {
		cfg.MaxBundleBytes = DefaultMaxBundleBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	a := &API{cfg: cfg, logger: logger, mux: http.NewServeMux()}
	a.mux.HandleFunc("POST /api/scanbundle/{id}", a.handleSubmit)
	a.mux.HandleFunc("GET /api/scanbundle/{id}/{bundle_id}", a.handlePoll)
	a.mux.HandleFunc("POST /api/uploadbundle/{id}", a.handleUpload)
	a.mux.HandleFunc("HEAD /api/downloadbundle/{id}/{bundle_id}", a.handleProbe)
	a.mux.HandleFunc("GET /api/downloadbundle/{id}/{bundle_id}", a.handleDownload)
	a.mux.HandleFunc("GET /api/metrics", a.handleMetrics)
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, a.cfg.MaxBundleBytes)
	id, err := a.cfg.Service.Submit(r.Context(), body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.WithJob(id).Debug("submit accepted", map[string]any{"source": r.PathValue("id")})
	server.WriteJSON(w, http.StatusOK, types.SubmitResponse{ID: id, Status: types.UploadedStatus})
}

func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	view, err := a.cfg.Service.Poll(r.Context(), r.PathValue("bundle_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, view)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body := http.MaxBytesReader(w, r.Body, a.cfg.MaxBundleBytes)
	bundle, err := a.cfg.Service.StoreBundle(r.Context(), id, body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, UploadResponse{ID: id, Bundle: bundle})
}

func (a *API) handleProbe(w http.ResponseWriter, r *http.Request) {
	art, err := a.cfg.Service.FindArtifact(r.PathValue("id"), r.PathValue("bundle_id"))
	if err != nil {
		a.failHead(w, r, err)
		return
	}
	size, err := analyzer.UncompressedSize(art)
	if err != nil {
		a.failHead(w, r, err)
		return
	}
	w.Header().Set(UncompressedLengthHeader, strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	art, err := a.cfg.Service.FindArtifact(r.PathValue("id"), r.PathValue("bundle_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer iox.DiscardClose(f)
	st, err := f.Stat()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	if art.Compressed {
		h.Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		a.logger.Warn("download interrupted", map[string]any{"path": r.URL.Path, "error": err.Error()})
	}
}

func (a *API) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, MetricsResponse{
		Snapshot:    a.cfg.Metrics.Snapshot(),
		PendingJobs: a.cfg.Service.Pending(),
	})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, analyzer.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, analyzer.ErrInvalidName):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", map[string]any{"method": r.Method, "path": r.URL.Path, "error": err.Error()})
	}
	server.WriteError(w, code, err.Error())
}

// failHead answers a HEAD request, which carries no body.
func (a *API) failHead(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", map[string]any{"method": r.Method, "path": r.URL.Path, "error": err.Error()})
	}
	w.WriteHeader(code)
}
