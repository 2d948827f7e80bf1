package device

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNoSelection is returned when an operation needs selected devices.
var ErrNoSelection = errors.New("no devices selected")

// Session is the operator session of the device server: its id and the
// selected source (dirty) and destination (out) devices.
type Session struct {
	mu    sync.Mutex
	id    string
	dirty string
	out   string
}

// NewSession starts a session with a fresh id.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Select records the dirty and out device fingerprints.
func (s *Session) Select(dirty, out string) {
	s.mu.Lock()
	s.dirty, s.out = dirty, out
	s.mu.Unlock()
}

// Selection returns the selected fingerprints.
func (s *Session) Selection() (dirty, out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty == "" || s.out == "" {
		return "", "", ErrNoSelection
	}
	return s.dirty, s.out, nil
}

// Reset clears the selection and rotates the session id.
func (s *Session) Reset() {
	s.mu.Lock()
	s.id = uuid.NewString()
	s.dirty, s.out = "", ""
	s.mu.Unlock()
}
