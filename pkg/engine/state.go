package engine

import (
	"sync"
	"sync/atomic"
)

// State is one point in a cached-document engine's lifecycle.
//
//	Uninitialised -> SpinningUp -> SpunUp -> Running -> SpinningDown -> SpunDown
//
// Transitions are guarded by compare-and-set; only the goroutine that wins a
// transition acts on it (e.g. only the spin-up winner calls beginOperations).
type State int32

const (
	Uninitialised State = iota
	SpinningUp
	SpunUp
	Running
	SpinningDown
	SpunDown
)

func (s State) String() string {
	switch s {
	case Uninitialised:
		return "Uninitialised"
	case SpinningUp:
		return "SpinningUp"
	case SpunUp:
		return "SpunUp"
	case Running:
		return "Running"
	case SpinningDown:
		return "SpinningDown"
	case SpunDown:
		return "SpunDown"
	default:
		return "Unknown"
	}
}

// stateCell holds an engine's State plus a readiness broadcast: goroutines
// blocked waiting for Running (or for terminal failure at SpunDown) park on
// the channel returned by readyChan, which is closed and replaced every time
// the state changes. This replaces wait/notify on a shared monitor with a
// one-shot channel per transition.
type stateCell struct {
	v  atomic.Int32
	mu sync.Mutex
	ch atomic.Pointer[chan struct{}]
}

func newStateCell(initial State) *stateCell {
	c := &stateCell{}
	c.v.Store(int32(initial))
	ch := make(chan struct{})
	c.ch.Store(&ch)
	return c
}

func (c *stateCell) Load() State {
	return State(c.v.Load())
}

// CAS attempts to move the cell from `from` to `to`. On success, any
// goroutine parked on readyChan's channel (see awaitRunning) is released.
func (c *stateCell) CAS(from, to State) bool {
	if !c.v.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.mu.Lock()
	old := c.ch.Load()
	ch := make(chan struct{})
	c.ch.Store(&ch)
	c.mu.Unlock()
	close(*old)
	return true
}

// Set forces the cell to a new value unconditionally, releasing waiters.
// Used by forceSpinDown() short-circuit paths.
func (c *stateCell) Set(to State) {
	c.v.Store(int32(to))
	c.mu.Lock()
	old := c.ch.Load()
	ch := make(chan struct{})
	c.ch.Store(&ch)
	c.mu.Unlock()
	close(*old)
}

// readyChan returns the channel that closes on the next transition, so a
// caller can re-check state after a wakeup without missing a signal fired
// between the Load and the wait.
func (c *stateCell) readyChan() chan struct{} {
	return *c.ch.Load()
}
