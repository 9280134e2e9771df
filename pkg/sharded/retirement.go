package sharded

import (
	"context"
	"log"
	"time"
)

// retirementLoop periodically retires idle shards: a shard whose
// inactivity threshold has elapsed and carries no uncommitted data is
// spun down and dropped from openShards.
func (e *Engine[T]) retirementLoop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.RetirementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.retirementPass()
		}
	}
}

func (e *Engine[T]) retirementPass() {
	e.mu.Lock()
	candidates := make(map[string]*shardEntry, len(e.openShards))
	for name, entry := range e.openShards {
		candidates[name] = entry
	}
	e.mu.Unlock()

	for name, entry := range candidates {
		if !e.canSpinDown(entry) {
			continue
		}
		e.mu.Lock()
		delete(e.openShards, name)
		e.mu.Unlock()
		go e.retireShard(name, entry)
	}
}

// retireShard spins entry down and, once that completes, asks the
// metadata factory to persist its state — the parent must not report a
// shard retired until both steps are done, since the next time this
// shard's name is seen its metadata is expected to already be durable.
func (e *Engine[T]) retireShard(name string, entry *shardEntry) {
	if err := entry.engine.SpinDown(); err != nil {
		log.Printf("xflat: sharded: spin-down of retired shard %q failed: %v", name, err)
		return
	}
	if e.cfg.PersistMetadata == nil {
		return
	}
	if err := e.cfg.PersistMetadata(name); err != nil {
		log.Printf("xflat: sharded: persisting metadata for retired shard %q failed: %v", name, err)
	}
}

// canSpinDown mirrors the table-metadata manager's rule: idle longer than
// the configured threshold, and no uncommitted data.
func (e *Engine[T]) canSpinDown(entry *shardEntry) bool {
	entry.mu.Lock()
	idleSince := entry.lastActivity
	entry.mu.Unlock()

	if time.Since(idleSince) < e.cfg.InactivityShutdown {
		return false
	}
	return !entry.engine.HasUncommittedData()
}
