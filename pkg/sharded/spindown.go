package sharded

import (
	"time"

	"github.com/xflatdb/xflat/pkg/engine"
)

const (
	engineSpunDown      = engine.SpunDown
	engineUninitialised = engine.Uninitialised
	engineRunning       = engine.Running
)

// monitorInterval is how often the parent's spin-down monitor checks
// whether its draining children have finished.
const monitorInterval = 10 * time.Millisecond

// SpinDown transitions Running -> SpinningDown: every open child is handed
// to SpinDown and tracked in spinningDown, then a short-interval monitor
// retires children as they finish, re-requests spin-down for any that
// slipped back to Running, and finally transitions to SpunDown once every
// child has drained.
func (e *Engine[T]) SpinDown() error {
	if e.state.Load() == SpunDown {
		return nil
	}
	if !e.state.CAS(Running, SpinningDown) {
		if e.state.Load() != SpunDown {
			return ReadyError
		}
		return nil
	}

	e.spinDownRoot.Lock()
	e.mu.Lock()
	for name, entry := range e.openShards {
		e.spinningDown[name] = entry
		delete(e.openShards, name)
	}
	e.mu.Unlock()
	for _, entry := range e.spinningDown {
		go entry.engine.SpinDown()
	}
	e.spinDownRoot.Unlock()

	if e.cancel != nil {
		e.cancel()
		<-e.doneCh
	}

	e.drainUntilEmpty()

	e.state.Set(SpunDown)
	if e.onSpunDown != nil {
		e.onSpunDown()
	}
	return nil
}

func (e *Engine[T]) drainUntilEmpty() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for range ticker.C {
		e.spinDownRoot.Lock()
		for name, entry := range e.spinningDown {
			switch entry.engine.State() {
			case engineSpunDown, engineUninitialised:
				delete(e.spinningDown, name)
			case engineRunning:
				go entry.engine.SpinDown()
			}
		}
		empty := len(e.spinningDown) == 0
		e.spinDownRoot.Unlock()
		if empty {
			return
		}
	}
}

// ForceSpinDown short-circuits straight to SpunDown: every open child is
// force-spun-down, as is anything still draining in spinningDown.
func (e *Engine[T]) ForceSpinDown() {
	e.state.Set(SpunDown)
	e.mu.Lock()
	open := make([]*shardEntry, 0, len(e.openShards))
	for _, entry := range e.openShards {
		open = append(open, entry)
	}
	e.openShards = make(map[string]*shardEntry)
	e.mu.Unlock()
	for _, entry := range open {
		entry.engine.ForceSpinDown()
	}

	e.spinDownRoot.Lock()
	draining := make([]*shardEntry, 0, len(e.spinningDown))
	for _, entry := range e.spinningDown {
		draining = append(draining, entry)
	}
	e.spinningDown = make(map[string]*shardEntry)
	e.spinDownRoot.Unlock()
	for _, entry := range draining {
		entry.engine.ForceSpinDown()
	}

	if e.cancel != nil {
		e.cancel()
	}
	if e.onSpunDown != nil {
		e.onSpunDown()
	}
}
