package sharded

import (
	"sync"
	"sync/atomic"

	"github.com/xflatdb/xflat/pkg/xflaterr"
)

// State mirrors pkg/engine's lifecycle states; duplicated rather than
// imported because the sharded engine's transitions are driven by a
// different set of events (child retirement, not MVCC cleanup) even though
// the state names line up.
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

// ReadyError is returned by an operation that waited for readiness but
// observed the engine reach SpunDown instead of Running.
var ReadyError = xflaterr.ErrEngineState

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

func (c *stateCell) Load() State { return State(c.v.Load()) }

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

func (c *stateCell) Set(to State) {
	c.v.Store(int32(to))
	c.mu.Lock()
	old := c.ch.Load()
	ch := make(chan struct{})
	c.ch.Store(&ch)
	c.mu.Unlock()
	close(*old)
}

func (c *stateCell) readyChan() chan struct{} {
	return *c.ch.Load()
}
