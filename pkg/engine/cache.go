package engine

import (
	"sync"

	lock "github.com/viney-shih/go-lock"

	"github.com/xflatdb/xflat/pkg/row"
)

// cache is the in-memory table: a concurrent rowId -> *row.Row map plus the
// uncommittedRows subset the background maintenance pass and commit/revert
// consult instead of walking every row.
//
// tableLock is the coarse readers-writer lock described in the core design:
// readers (and most writers, which only touch their own Row's mutex) take
// it for reading; a physical row drop (including the one in spin-down's
// final cleanup pass), a spin-up file load, or a commit/revert takes it for
// writing.
type cache struct {
	tableLock lock.RWMutex

	mu    sync.RWMutex
	rows  map[string]*row.Row

	uncommittedMu sync.Mutex
	uncommitted   map[string]struct{}
}

func newCache() *cache {
	return &cache{
		tableLock:   lock.NewCASRWMutex(),
		rows:        make(map[string]*row.Row),
		uncommitted: make(map[string]struct{}),
	}
}

func (c *cache) get(id string) (*row.Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rows[id]
	return r, ok
}

// getOrCreate returns the existing Row for id, or installs and returns a
// fresh one.
func (c *cache) getOrCreate(id string) *row.Row {
	c.mu.RLock()
	r, ok := c.rows[id]
	c.mu.RUnlock()
	if ok {
		return r
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rows[id]; ok {
		return r
	}
	r = row.New(id)
	c.rows[id] = r
	return r
}

func (c *cache) forEach(fn func(r *row.Row)) {
	c.mu.RLock()
	rows := make([]*row.Row, 0, len(c.rows))
	for _, r := range c.rows {
		rows = append(rows, r)
	}
	c.mu.RUnlock()
	for _, r := range rows {
		fn(r)
	}
}

func (c *cache) markUncommitted(id string) {
	c.uncommittedMu.Lock()
	c.uncommitted[id] = struct{}{}
	c.uncommittedMu.Unlock()
}

func (c *cache) unmarkUncommitted(id string) {
	c.uncommittedMu.Lock()
	delete(c.uncommitted, id)
	c.uncommittedMu.Unlock()
}

func (c *cache) uncommittedIDs() []string {
	c.uncommittedMu.Lock()
	defer c.uncommittedMu.Unlock()
	ids := make([]string, 0, len(c.uncommitted))
	for id := range c.uncommitted {
		ids = append(ids, id)
	}
	return ids
}

// dropLocked physically removes rows by id. Callers must hold tableLock for
// writing.
func (c *cache) dropLocked(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.rows, id)
	}
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}
