// Package deviceapi exposes the device manager over HTTP.
//
// Long-running operations (copy, wipe, imagedisk) answer with a stream of
// newline-delimited JSON events, flushed as they are produced. A client
// that disconnects stops receiving events; the operation itself runs to
// completion.
package deviceapi

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/justapithecus/airlock/device"
	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/server"
	"github.com/justapithecus/airlock/types"
)

// StreamContentType is the media type of operation streams.
const StreamContentType = "application/x-ndjson"

// maxCopyRequestBytes caps the copy request body.
const maxCopyRequestBytes = 1 << 20

// Config configures the API.
type Config struct {
	Manager *device.Manager
	// Name is reported by /status.
	Name string
	// Message returns the operator message reported by /status. It is
	// called on every request so edits show up without a restart.
	Message func() (string, error)
	Logger  *log.Logger
}

// IDResponse is the body of /id.
type IDResponse struct {
	ID string `json:"id"`
}

// ServerInfos is the body of /server_infos.
type ServerInfos struct {
	Name          string    `json:"name"`
	Hostname      string    `json:"hostname"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// SelectResponse is the body of /devices/select.
type SelectResponse struct {
	Dirty  string           `json:"dirty"`
	Out    string           `json:"out"`
	Status types.GateStatus `json:"status"`
}

// ResetResponse is the body of /reset.
type ResetResponse struct {
	ID     string           `json:"id"`
	Status types.GateStatus `json:"status"`
}

// API serves the device routes.
type API struct {
	cfg     Config
	logger  *log.Logger
	mux     *http.ServeMux
	started time.Time
}

// New returns an API over cfg.Manager.
func New(cfg Config) (*API, error) {
	if cfg.Manager == nil {
		return nil, errors.New("deviceapi: manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	a := &API{cfg: cfg, logger: logger, mux: http.NewServeMux(), started: time.Now()}
	a.mux.HandleFunc("GET /id", a.handleID)
	a.mux.HandleFunc("GET /server_infos", a.handleServerInfos)
	a.mux.HandleFunc("GET /status", a.handleStatus)
	a.mux.HandleFunc("GET /devices", a.handleDevices)
	a.mux.HandleFunc("GET /devices/select/{dirty}/{out}", a.handleSelect)
	a.mux.HandleFunc("GET /devices/dirty/read_dir/", a.handleReadDir)
	a.mux.HandleFunc("POST /copy", a.handleCopy)
	a.mux.HandleFunc("GET /wipe/{fingerprint}/{fsfmt}/{quick}", a.handleWipe)
	a.mux.HandleFunc("GET /imagedisk/{fingerprint}", a.handleImageDisk)
	a.mux.HandleFunc("GET /reset", a.handleReset)
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleID(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, IDResponse{ID: a.cfg.Manager.SessionID()})
}

func (a *API) handleServerInfos(w http.ResponseWriter, _ *http.Request) {
	host, err := os.Hostname()
	if err != nil {
		a.logger.Warn("read hostname failed", map[string]any{"error": err.Error()})
	}
	server.WriteJSON(w, http.StatusOK, ServerInfos{
		Name:          a.cfg.Name,
		Hostname:      host,
		Version:       types.Version,
		StartedAt:     a.started.UTC(),
		UptimeSeconds: int64(time.Since(a.started) / time.Second),
	})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := types.ServerStatus{
		Name:    a.cfg.Name,
		Version: types.Version,
		Status:  a.cfg.Manager.Gate().Status(),
	}
	if a.cfg.Message != nil {
		msg, err := a.cfg.Message()
		if err != nil {
			a.logger.Warn("read status message failed", map[string]any{"error": err.Error()})
		}
		st.Message = msg
	}
	server.WriteJSON(w, http.StatusOK, st)
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := a.cfg.Manager.Devices(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if devs == nil {
		devs = []types.Device{}
	}
	server.WriteJSON(w, http.StatusOK, devs)
}

func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	dirty, out := r.PathValue("dirty"), r.PathValue("out")
	if err := a.cfg.Manager.Select(r.Context(), dirty, out); err != nil {
		a.fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, SelectResponse{Dirty: dirty, Out: out, Status: a.cfg.Manager.Gate().Status()})
}

func (a *API) handleReadDir(w http.ResponseWriter, r *http.Request) {
	entries, err := a.cfg.Manager.ReadDir(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, entries)
}

func (a *API) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req types.CopyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCopyRequestBytes))
	if err := dec.Decode(&req); err != nil {
		server.WriteError(w, http.StatusBadRequest, "invalid copy request: "+err.Error())
		return
	}
	a.stream(w, r, a.cfg.Manager.Copy(r.Context(), req))
}

func (a *API) handleWipe(w http.ResponseWriter, r *http.Request) {
	quick, err := strconv.ParseBool(r.PathValue("quick"))
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, "quick must be a boolean")
		return
	}
	s, err := a.cfg.Manager.Wipe(r.Context(), r.PathValue("fingerprint"), r.PathValue("fsfmt"), quick)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.stream(w, r, s)
}

func (a *API) handleImageDisk(w http.ResponseWriter, r *http.Request) {
	s, err := a.cfg.Manager.ImageDisk(r.Context(), r.PathValue("fingerprint"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.stream(w, r, s)
}

func (a *API) handleReset(w http.ResponseWriter, _ *http.Request) {
	a.cfg.Manager.Reset()
	server.WriteJSON(w, http.StatusOK, ResetResponse{ID: a.cfg.Manager.SessionID(), Status: a.cfg.Manager.Gate().Status()})
}

// stream writes events until the stream drains or the client goes away.
func (a *API) stream(w http.ResponseWriter, r *http.Request, s *device.Stream) {
	w.Header().Set("Content-Type", StreamContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for {
		ev, ok := s.Next(r.Context())
		if !ok {
			return
		}
		if err := enc.Encode(ev); err != nil {
			a.logger.Debug("stream client gone", map[string]any{"path": r.URL.Path, "error": err.Error()})
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, device.ErrNotUSB), errors.Is(err, device.ErrBadFSFormat):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNoSelection):
		return http.StatusConflict
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
