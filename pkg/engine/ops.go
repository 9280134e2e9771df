package engine

import (
	"math"

	"github.com/beevik/etree"

	"github.com/xflatdb/xflat/pkg/row"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xflaterr"
	"github.com/xflatdb/xflat/pkg/xpath"
)

// writeContext bundles what every mutator needs to resolve from the
// transaction: its id, whether it is present at all, and the commit id a
// transactionless write should use immediately.
type writeContext struct {
	tx       *txn.Transaction
	txID     int64
	commitID int64 // UncommittedCommitID if tx present and still open
}

func (e *CachedDocumentEngine) writeCtx(tx *txn.Transaction) writeContext {
	if tx == nil {
		id := e.tx.TransactionlessCommitID()
		return writeContext{tx: nil, txID: id, commitID: id}
	}
	return writeContext{tx: tx, txID: tx.ID(), commitID: txn.UncommittedCommitID}
}

func (e *CachedDocumentEngine) snapshot(tx *txn.Transaction) row.Snapshot {
	if tx == nil {
		return row.Snapshot{CommitCap: math.MaxInt64}
	}
	return row.Snapshot{
		TxPresent: true,
		TxID:      tx.ID(),
		CommitCap: math.MaxInt64,
		Unbounded: tx.Isolation() == txn.ReadCommitted,
	}
}

// afterWrite performs the bookkeeping every mutator shares once it has
// installed a new Row version: bind the engine to the transaction (so
// commit/revert can find it later), mark the row uncommitted whenever any
// transaction is open anywhere, and schedule a durable dump. The returned
// error is non-nil only when accumulated dump failures have forced this
// call to wait on a synchronous attempt that then failed.
func (e *CachedDocumentEngine) afterWrite(wc writeContext, rowID string) error {
	if wc.tx != nil {
		e.tx.BindEngine(wc.tx, e)
	}
	if wc.commitID == txn.UncommittedCommitID || e.tx.AnyOpenTransactions() {
		e.cache.markUncommitted(rowID)
	}
	return e.dump.deferred()
}

// InsertRow creates a new row. Fails with ErrDuplicateKey if a visible
// (non-tombstone) version of id already exists under tx's snapshot.
func (e *CachedDocumentEngine) InsertRow(tx *txn.Transaction, id string, element *etree.Element) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	r := e.cache.getOrCreate(id)
	if existing, ok := r.ChooseMostRecentCommitted(e.snapshot(tx)); ok && !existing.IsTombstone() {
		return xflaterr.ErrDuplicateKey
	}

	wc := e.writeCtx(tx)
	r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: element, RowID: id})
	return e.afterWrite(wc, id)
}

// ReadRow returns a clone of the visible version's element, or
// (nil, false) if no row is visible (absent or tombstoned).
func (e *CachedDocumentEngine) ReadRow(tx *txn.Transaction, id string) (*etree.Element, bool, error) {
	if err := e.awaitRunning(); err != nil {
		return nil, false, err
	}
	r, ok := e.cache.get(id)
	if !ok {
		return nil, false, nil
	}
	d, ok := r.ChooseMostRecentCommitted(e.snapshot(tx))
	if !ok || d.IsTombstone() {
		return nil, false, nil
	}
	return d.RowElement.Copy(), true, nil
}

// ReplaceRow installs a new version wholesale. Fails with ErrKeyNotFound if
// no version of id is currently visible.
func (e *CachedDocumentEngine) ReplaceRow(tx *txn.Transaction, id string, element *etree.Element) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	r, ok := e.cache.get(id)
	if !ok {
		return xflaterr.ErrKeyNotFound
	}
	existing, ok := r.ChooseMostRecentCommitted(e.snapshot(tx))
	if !ok || existing.IsTombstone() {
		return xflaterr.ErrKeyNotFound
	}

	wc := e.writeCtx(tx)
	r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: element, RowID: id})
	return e.afterWrite(wc, id)
}

// UpdateRow applies mutator to a clone of the visible version and installs
// the result only if mutator reports a change. Returns (changed,
// ErrKeyNotFound if no visible row).
func (e *CachedDocumentEngine) UpdateRow(tx *txn.Transaction, id string, mutator xpath.RowMutator) (bool, error) {
	if err := e.awaitRunning(); err != nil {
		return false, err
	}
	r, ok := e.cache.get(id)
	if !ok {
		return false, xflaterr.ErrKeyNotFound
	}
	existing, ok := r.ChooseMostRecentCommitted(e.snapshot(tx))
	if !ok || existing.IsTombstone() {
		return false, xflaterr.ErrKeyNotFound
	}

	clone := existing.Clone()
	changed, err := mutator.Apply(clone.RowElement)
	if err != nil {
		return false, xflaterr.Wrap("UpdateRow", err)
	}
	if !changed {
		return false, nil
	}

	wc := e.writeCtx(tx)
	r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: clone.RowElement, RowID: id})
	if err := e.afterWrite(wc, id); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateQuery applies mutator to every row matcher accepts, returning how
// many rows actually changed.
func (e *CachedDocumentEngine) UpdateQuery(tx *txn.Transaction, matcher xpath.RowMatcher, mutator xpath.RowMutator) (int, error) {
	if err := e.awaitRunning(); err != nil {
		return 0, err
	}
	snap := e.snapshot(tx)
	count := 0
	var walkErr error
	e.cache.forEach(func(r *row.Row) {
		if walkErr != nil {
			return
		}
		existing, ok := r.ChooseMostRecentCommitted(snap)
		if !ok || existing.IsTombstone() || !matcher.Matches(existing.RowElement) {
			return
		}
		clone := existing.Clone()
		changed, err := mutator.Apply(clone.RowElement)
		if err != nil {
			walkErr = xflaterr.Wrap("UpdateQuery", err)
			return
		}
		if !changed {
			return
		}
		wc := e.writeCtx(tx)
		r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: clone.RowElement, RowID: r.ID()})
		if err := e.afterWrite(wc, r.ID()); err != nil {
			walkErr = err
			return
		}
		count++
	})
	return count, walkErr
}

// UpsertRow inserts id if no visible version exists, otherwise replaces it.
// Returns true iff this call performed an insert.
func (e *CachedDocumentEngine) UpsertRow(tx *txn.Transaction, id string, element *etree.Element) (bool, error) {
	if err := e.awaitRunning(); err != nil {
		return false, err
	}
	r := e.cache.getOrCreate(id)
	existing, ok := r.ChooseMostRecentCommitted(e.snapshot(tx))
	inserted := !ok || existing.IsTombstone()

	wc := e.writeCtx(tx)
	r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: element, RowID: id})
	if err := e.afterWrite(wc, id); err != nil {
		return false, err
	}
	return inserted, nil
}

// DeleteRow installs a tombstone. Fails with ErrKeyNotFound if no version
// of id is currently visible.
func (e *CachedDocumentEngine) DeleteRow(tx *txn.Transaction, id string) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	r, ok := e.cache.get(id)
	if !ok {
		return xflaterr.ErrKeyNotFound
	}
	existing, ok := r.ChooseMostRecentCommitted(e.snapshot(tx))
	if !ok || existing.IsTombstone() {
		return xflaterr.ErrKeyNotFound
	}

	wc := e.writeCtx(tx)
	r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: nil, RowID: id})
	return e.afterWrite(wc, id)
}

// DeleteAll tombstones every row matcher accepts, returning how many were
// deleted.
func (e *CachedDocumentEngine) DeleteAll(tx *txn.Transaction, matcher xpath.RowMatcher) (int, error) {
	if err := e.awaitRunning(); err != nil {
		return 0, err
	}
	snap := e.snapshot(tx)
	count := 0
	var walkErr error
	e.cache.forEach(func(r *row.Row) {
		if walkErr != nil {
			return
		}
		existing, ok := r.ChooseMostRecentCommitted(snap)
		if !ok || existing.IsTombstone() || !matcher.Matches(existing.RowElement) {
			return
		}
		wc := e.writeCtx(tx)
		r.Put(row.Data{TransactionID: wc.txID, CommitID: wc.commitID, RowElement: nil, RowID: r.ID()})
		if err := e.afterWrite(wc, r.ID()); err != nil {
			walkErr = err
			return
		}
		count++
	})
	return count, walkErr
}
