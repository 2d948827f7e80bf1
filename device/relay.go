package device

import (
	"context"
	"fmt"

	"github.com/justapithecus/airlock/log"
	"github.com/justapithecus/airlock/metrics"
	"github.com/justapithecus/airlock/types"
)

// Operation is a long-running device operation.
// Run reports progress on the stream; a returned error becomes the final
// error event. Run must not close the stream.
type Operation interface {
	Kind() string
	Run(ctx context.Context, s *Stream) error
}

// Relay starts operations in the background and hands their event streams
// to the caller.
type Relay struct {
	logger  *log.Logger
	metrics *metrics.Collector
}

// NewRelay returns a relay. logger may be nil.
func NewRelay(logger *log.Logger, m *metrics.Collector) *Relay {
	if logger == nil {
		logger = log.Nop()
	}
	return &Relay{logger: logger, metrics: m}
}

// Start runs op in a new goroutine and returns its stream immediately.
// The stream is closed when op returns. op does not inherit ctx
// cancellation: a client disconnecting does not abort a wipe half way.
func (r *Relay) Start(ctx context.Context, op Operation) *Stream {
	s := NewStream()
	kind := op.Kind()
	r.metrics.IncOperationStarted(kind)
	r.logger.Info("operation started", map[string]any{"kind": kind})

	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.Close()
		if err := r.run(bg, op, s); err != nil {
			r.metrics.IncOperationFailed(kind)
			r.logger.Error("operation failed", map[string]any{"kind": kind, "error": err.Error()})
			s.Send(types.Event{Status: types.EventError, Message: err.Error()})
			return
		}
		r.logger.Info("operation finished", map[string]any{"kind": kind})
	}()
	return s
}

func (r *Relay) run(ctx context.Context, op Operation, s *Stream) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", op.Kind(), p)
		}
	}()
	return op.Run(ctx, s)
}
