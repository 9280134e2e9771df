package engine

import (
	"github.com/xflatdb/xflat/pkg/row"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xflaterr"
)

// Commit implements txn.EngineBinder. Only one transaction may be mid-commit
// on this engine at a time; a second concurrent attempt fails with
// ErrTransactionState unless the recorded one has already fully committed.
// A repeated call for the recorded transaction itself is let through. The
// dump that follows runs after the table lock is released, because the
// dump's writer takes that lock for reading.
func (e *CachedDocumentEngine) Commit(txID, commitID int64, isolation txn.Isolation, durable bool) error {
	if err := e.applyCommit(txID, commitID, isolation); err != nil {
		return err
	}
	if durable {
		return e.dump.now()
	}
	return e.dump.deferred()
}

// applyCommit runs the write-conflict check and assigns commitID to every
// version txID wrote, holding the table lock for its whole duration.
func (e *CachedDocumentEngine) applyCommit(txID, commitID int64, isolation txn.Isolation) error {
	e.cache.tableLock.Lock()
	defer e.cache.tableLock.Unlock()

	e.committingMu.Lock()
	if e.committing != txn.UncommittedCommitID && e.committing != txID {
		if _, done := e.tx.IsTransactionCommitted(e.committing); !done {
			e.committingMu.Unlock()
			return xflaterr.ErrTransactionState
		}
	}
	e.committing = txID
	e.committingMu.Unlock()
	defer func() {
		e.committingMu.Lock()
		e.committing = txn.UncommittedCommitID
		e.committingMu.Unlock()
	}()

	var touched []*row.Row
	for _, id := range e.cache.uncommittedIDs() {
		r, ok := e.cache.get(id)
		if !ok {
			continue
		}
		if _, ok := r.Get(txID); !ok {
			continue
		}
		if isolation == txn.Snapshot {
			for _, v := range r.AllVersions() {
				if v.CommitID != row.UncommittedCommitID && v.CommitID > txID && v.TransactionID != txID {
					return xflaterr.ErrWriteConflict
				}
			}
		}
		touched = append(touched, r)
	}

	for _, r := range touched {
		r.SetCommitID(txID, commitID)
		if !r.HasUncommitted() {
			e.cache.unmarkUncommitted(r.ID())
		}
	}
	return nil
}

// Revert implements txn.EngineBinder: discard every version txID wrote. If
// isRecovering, the whole cache is scanned (crash recovery has no reliable
// uncommittedRows index to trust); otherwise only uncommittedRows is
// consulted.
func (e *CachedDocumentEngine) Revert(txID int64, isRecovering bool) error {
	e.cache.tableLock.Lock()
	defer e.cache.tableLock.Unlock()

	var ids []string
	if isRecovering {
		e.cache.forEach(func(r *row.Row) { ids = append(ids, r.ID()) })
	} else {
		ids = e.cache.uncommittedIDs()
	}

	needsDump := false
	for _, id := range ids {
		r, ok := e.cache.get(id)
		if !ok {
			continue
		}
		if hadCommitted := r.Remove(txID); hadCommitted {
			needsDump = true
		}
		if !r.HasUncommitted() {
			e.cache.unmarkUncommitted(id)
		}
	}

	if needsDump {
		return e.dump.deferred()
	}
	return nil
}
