// Package device runs exclusive operations on removable media (copy, wipe,
// disk image) in the background and relays their progress as event streams.
package device

import (
	"sync"

	"github.com/justapithecus/airlock/types"
)

// Gate is the advisory busy indicator shown to clients.
//
// It does not serialize operations: a second exclusive operation may start
// while one is in flight. Clients are expected to respect the indicator.
type Gate struct {
	mu     sync.RWMutex
	status types.GateStatus
}

// NewGate returns an idle gate.
func NewGate() *Gate {
	return &Gate{status: types.GateIdle}
}

// Status returns the current indicator.
func (g *Gate) Status() types.GateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// SetBusy marks an operation as in flight.
func (g *Gate) SetBusy() {
	g.set(types.GateBusy)
}

// SetIdle clears the indicator.
func (g *Gate) SetIdle() {
	g.set(types.GateIdle)
}

func (g *Gate) set(s types.GateStatus) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}
