package engine

import (
	"sync"

	"github.com/beevik/etree"

	"github.com/xflatdb/xflat/pkg/row"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xpath"
)

// Cursor lazily iterates a table's cache under a fixed transaction
// snapshot. It is registered with the owning engine's open-cursor tracker
// so that SpinDown waits for every outstanding cursor to Close.
type Cursor struct {
	release func()
	once    sync.Once

	rows    []*row.Row
	snap    row.Snapshot
	matcher xpath.RowMatcher
	idx     int
}

// Next advances the cursor, returning the next matching element. ok is
// false once the cursor is exhausted.
func (c *Cursor) Next() (elem *etree.Element, ok bool) {
	for c.idx < len(c.rows) {
		r := c.rows[c.idx]
		c.idx++
		d, visible := r.ChooseMostRecentCommitted(c.snap)
		if !visible || d.IsTombstone() {
			continue
		}
		if c.matcher != nil && !c.matcher.Matches(d.RowElement) {
			continue
		}
		return d.RowElement.Copy(), true
	}
	return nil, false
}

// Close releases the cursor's hold on the engine's spin-down drain. Safe to
// call more than once.
func (c *Cursor) Close() {
	c.once.Do(c.release)
}

// QueryTable returns a cursor over every row matcher accepts, visible under
// tx's snapshot. The cursor must be Closed (via defer) so that a concurrent
// spin-down can drain it.
func (e *CachedDocumentEngine) QueryTable(tx *txn.Transaction, matcher xpath.RowMatcher) (*Cursor, error) {
	if err := e.awaitRunning(); err != nil {
		return nil, err
	}
	var rows []*row.Row
	e.cache.forEach(func(r *row.Row) { rows = append(rows, r) })

	e.openCursors.Add(1)
	return &Cursor{
		release: e.openCursors.Done,
		rows:    rows,
		snap:    e.snapshot(tx),
		matcher: matcher,
	}, nil
}
