package device

import (
	"context"
	"sync"

	"github.com/justapithecus/airlock/types"
)

// Stream is an unbounded, order-preserving event queue with one producer
// and one consumer. Send never blocks. After Close the consumer drains the
// remaining events and then observes the end of the stream.
type Stream struct {
	mu     sync.Mutex
	queue  []types.Event
	closed bool
	// ready holds at most one wake-up for the consumer.
	ready chan struct{}
}

// NewStream returns an open stream.
func NewStream() *Stream {
	return &Stream{ready: make(chan struct{}, 1)}
}

// Send queues an event. It reports false once the stream is closed.
func (s *Stream) Send(ev types.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
	return true
}

// Close ends the stream. Closing twice is a no-op.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next returns the next event. It blocks until an event is queued, the
// stream is closed and drained (false), or ctx is done (false).
func (s *Stream) Next(ctx context.Context) (types.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = types.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return types.Event{}, false
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			return types.Event{}, false
		}
	}
}

// Collect drains the stream into a slice. Intended for CLI and tests.
func (s *Stream) Collect(ctx context.Context) []types.Event {
	var out []types.Event
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}
