package engine

import (
	"context"
	"time"

	"github.com/xflatdb/xflat/pkg/row"
)

// maintenanceLoop runs the periodic MVCC cleanup pass until ctx is
// cancelled (SpinDown observes this as the task's cancellation token,
// replacing the source's exception-driven termination).
func (e *CachedDocumentEngine) maintenanceLoop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()

	pass := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass++
			fullSweep := pass%e.cfg.FullSweepEvery == 0
			e.runMaintenancePass(fullSweep)
		}
	}
}

func (e *CachedDocumentEngine) runMaintenancePass(fullSweep bool) {
	minOpenTxID := e.tx.OldestOpenTransactionID()

	var candidates []*row.Row
	if fullSweep {
		e.cache.forEach(func(r *row.Row) { candidates = append(candidates, r) })
	} else {
		for _, id := range e.cache.uncommittedIDs() {
			if r, ok := e.cache.get(id); ok {
				candidates = append(candidates, r)
			}
		}
	}

	var toDrop []string
	for _, r := range candidates {
		if r.Cleanup(minOpenTxID) {
			toDrop = append(toDrop, r.ID())
		}
		if !r.HasUncommitted() {
			e.cache.unmarkUncommitted(r.ID())
		}
	}

	if len(toDrop) > 0 {
		e.cache.tableLock.Lock()
		var stillEmpty []string
		for _, id := range toDrop {
			if r, ok := e.cache.get(id); ok && r.Cleanup(minOpenTxID) {
				stillEmpty = append(stillEmpty, id)
			}
		}
		e.cache.dropLocked(stillEmpty)
		e.cache.tableLock.Unlock()
	}

	seen := make(map[int64]struct{})
	for _, id := range e.cache.uncommittedIDs() {
		r, ok := e.cache.get(id)
		if !ok {
			continue
		}
		for _, v := range r.AllVersions() {
			if v.CommitID == row.UncommittedCommitID {
				seen[v.TransactionID] = struct{}{}
			}
		}
	}
	stillReferenced := make([]int64, 0, len(seen))
	for id := range seen {
		stillReferenced = append(stillReferenced, id)
	}
	e.tx.UnbindEngineExceptFrom(e, stillReferenced)
}
