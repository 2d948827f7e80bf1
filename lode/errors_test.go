package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"timed out message", errors.New("operation timed out"), ErrTimeout},
		{"AccessDenied", errors.New("AccessDenied: you do not have access"), ErrAccessDenied},
		{"HTTP 403", errors.New("received status 403"), ErrAccessDenied},
		{"fs permission", &fs.PathError{Op: "open", Path: "/data", Err: fs.ErrPermission}, ErrPermissionDenied},
		{"EACCES message", errors.New("open /tmp/file: EACCES"), ErrPermissionDenied},
		{"ENOSPC errno", &os.PathError{Op: "write", Path: "/data", Err: syscall.ENOSPC}, ErrDiskFull},
		{"quota", errors.New("quota exceeded for user"), ErrDiskFull},
		{"missing file", fmt.Errorf("read: %w", fs.ErrNotExist), ErrNotFound},
		{"NoSuchKey", errors.New("NoSuchKey: The specified key does not exist"), ErrNotFound},
		{"SlowDown", errors.New("SlowDown: please reduce request rate"), ErrThrottled},
		{"HTTP 429", errors.New("received status 429"), ErrThrottled},
		{"ExpiredToken", errors.New("ExpiredToken: the security token has expired"), ErrAuth},
		{"NoCredentialProviders", errors.New("NoCredentialProviders: no valid providers"), ErrAuth},
		{"connection refused", errors.New("dial tcp 127.0.0.1:9000: connection refused"), ErrNetwork},
		{"unknown", errors.New("something completely unexpected happened"), ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); !errors.Is(got, tt.wantKind) {
				t.Errorf("classifyError(%v) = %v, want %v", tt.err, got, tt.wantKind)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

func TestStorageError_Chain(t *testing.T) {
	cause := &fs.PathError{Op: "open", Path: "/archive", Err: fs.ErrPermission}
	err := WrapWriteError(cause, "airlock/job-1")

	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("errors.Is(err, ErrPermissionDenied) = false for %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("underlying error lost from the chain")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("errors.As(*StorageError) = false for %T", err)
	}
	if se.Op != "write" || se.Path != "airlock/job-1" {
		t.Errorf("op/path = %s/%s, want write/airlock/job-1", se.Op, se.Path)
	}
	if WrapReadError(nil, "x") != nil || WrapInitError(nil, "x") != nil {
		t.Error("wrapping nil returned non-nil")
	}
}
