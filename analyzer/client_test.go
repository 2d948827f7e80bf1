package analyzer

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/airlock/types"
)

func TestClient_SubmitAndWait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scanbundle/station1", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "bundle" {
			t.Errorf("body = %q, want bundle", body)
		}
		_ = json.NewEncoder(w).Encode(types.SubmitResponse{ID: "job1", Status: types.UploadedStatus})
	})
	mux.HandleFunc("GET /api/scanbundle/station1/job1", func(w http.ResponseWriter, _ *http.Request) {
		view := types.JobView{ID: "job1", Status: types.JobStatusProcessing}
		if polls.Add(1) >= 3 {
			view = types.JobView{
				ID: "job1", Status: types.JobStatusScanned, Version: 2,
				Files: map[string]types.FileResult{"a.txt": {Status: types.VerdictClean}},
			}
		}
		_ = json.NewEncoder(w).Encode(view)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := &Client{BaseURL: ts.URL, Source: "station1"}
	id, err := c.Submit(t.Context(), strings.NewReader("bundle"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id != "job1" {
		t.Errorf("id = %q, want job1", id)
	}

	view, err := c.Wait(t.Context(), id, time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if view.Status != types.JobStatusScanned || view.Files["a.txt"].Status != types.VerdictClean {
		t.Errorf("Wait() = %+v", view)
	}
	if got := polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestClient_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scanbundle/s/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/scanbundle/s", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"disk full"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := &Client{BaseURL: ts.URL, Source: "s"}
	if _, err := c.Poll(t.Context(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Poll() error = %v, want %v", err, ErrNotFound)
	}

	_, err := c.Submit(t.Context(), strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Submit() error = %v, want *APIError", err)
	}
	if apiErr.Code != http.StatusInternalServerError || apiErr.Message != "disk full" {
		t.Errorf("APIError = %+v", apiErr)
	}
}
