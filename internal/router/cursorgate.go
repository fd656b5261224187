package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notewave/collabd/internal/protocol"
)

// CursorGates rate-limits inbound cursor updates to one emission per
// connection per minInterval. Updates arriving inside the window are
// coalesced: the latest value is flushed when the window reopens,
// intermediate values are dropped.
type CursorGates struct {
	mu          sync.Mutex
	gates       map[uuid.UUID]*cursorGate
	minInterval time.Duration
	now         func() time.Time
}

type cursorGate struct {
	lastEmit time.Time
	pending  *protocol.CursorMovePayload
	timer    *time.Timer
}

func NewCursorGates(minInterval time.Duration) *CursorGates {
	return &CursorGates{
		gates:       make(map[uuid.UUID]*cursorGate),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// offer either emits immediately (window open) or parks the payload as the
// pending value, scheduling a single flush for when the window reopens.
func (g *CursorGates) offer(connID uuid.UUID, payload protocol.CursorMovePayload, emit func(protocol.CursorMovePayload)) {
	g.mu.Lock()

	gate, ok := g.gates[connID]
	if !ok {
		gate = &cursorGate{}
		g.gates[connID] = gate
	}

	now := g.now()
	elapsed := now.Sub(gate.lastEmit)
	if elapsed >= g.minInterval {
		gate.lastEmit = now
		g.mu.Unlock()
		emit(payload)
		return
	}

	// Window closed: last value wins.
	p := payload
	gate.pending = &p
	if gate.timer == nil {
		gate.timer = time.AfterFunc(g.minInterval-elapsed, func() {
			g.flush(connID, emit)
		})
	}
	g.mu.Unlock()
}

func (g *CursorGates) flush(connID uuid.UUID, emit func(protocol.CursorMovePayload)) {
	g.mu.Lock()
	gate, ok := g.gates[connID]
	if !ok || gate.pending == nil {
		if ok {
			gate.timer = nil
		}
		g.mu.Unlock()
		return
	}
	latest := *gate.pending
	gate.pending = nil
	gate.timer = nil
	gate.lastEmit = g.now()
	g.mu.Unlock()

	emit(latest)
}

// forget drops a connection's gate, cancelling any scheduled flush.
func (g *CursorGates) forget(connID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gate, ok := g.gates[connID]
	if !ok {
		return
	}
	if gate.timer != nil {
		gate.timer.Stop()
	}
	delete(g.gates, connID)
}
