// Package txn implements the transaction manager: monotonic allocation of
// transaction and commit ids, commit/revert bookkeeping across whichever
// engines a transaction touched, and a crash-recoverable log of
// transactions that were still open when the process died.
package txn

import (
	"sync"

	"github.com/xflatdb/xflat/pkg/xflaterr"
)

// Isolation distinguishes the two transaction behaviours the core cares
// about. Anything richer (repeatable-read variants, serializable) is a
// façade-level concern, not the engine's.
type Isolation int

const (
	// ReadCommitted transactions never fail on commit due to a concurrent
	// writer; they simply always observe the latest committed version.
	ReadCommitted Isolation = iota
	// Snapshot transactions see the database as of their start time and
	// fail to commit if another transaction committed a write to the same
	// row after they started.
	Snapshot
)

// UncommittedCommitID mirrors row.UncommittedCommitID; duplicated here so
// this package has no dependency on pkg/row.
const UncommittedCommitID int64 = -1

type status int

const (
	statusOpen status = iota
	statusCommitted
	statusReverted
)

// EngineBinder is the capability a cached-document (or sharded) engine
// exposes to the transaction manager: apply a transaction's buffered
// writes durably, or discard them.
type EngineBinder interface {
	// Commit assigns commitID to every version txID wrote in this engine.
	// It must itself enforce snapshot-isolation write-conflict checking.
	Commit(txID, commitID int64, isolation Isolation, durable bool) error
	// Revert discards every version txID wrote in this engine. isRecovering
	// is true when called during crash-recovery spin-up, which permits a
	// full-cache scan instead of consulting the uncommittedRows index.
	Revert(txID int64, isRecovering bool) error
}

// Transaction is an open unit of work: a transaction id assigned at Begin,
// an isolation level, and the set of engines it has written through so
// that commit/revert can be fanned out and crash recovery knows where to
// look.
type Transaction struct {
	mu        sync.Mutex
	id        int64
	isolation Isolation
	commitID  int64
	status    status
	engines   map[EngineBinder]struct{}
}

// ID returns the transaction id (also the read-your-own-writes key and,
// for a snapshot transaction, the visibility watermark).
func (t *Transaction) ID() int64 { return t.id }

// Isolation returns the transaction's isolation level.
func (t *Transaction) Isolation() Isolation { return t.isolation }

// CommitID returns the assigned commit id, or UncommittedCommitID if the
// transaction has not (yet, or ever) committed.
func (t *Transaction) CommitID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitID
}

// IsOpen reports whether the transaction is still neither committed nor
// reverted.
func (t *Transaction) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == statusOpen
}

func (t *Transaction) bind(e EngineBinder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engines == nil {
		t.engines = make(map[EngineBinder]struct{})
	}
	t.engines[e] = struct{}{}
}

func (t *Transaction) boundEngines() []EngineBinder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EngineBinder, 0, len(t.engines))
	for e := range t.engines {
		out = append(out, e)
	}
	return out
}

func (t *Transaction) markCommitted(commitID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != statusOpen {
		return xflaterr.ErrIllegalTransactionState
	}
	t.status = statusCommitted
	t.commitID = commitID
	return nil
}

func (t *Transaction) markReverted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == statusOpen {
		t.status = statusReverted
	}
}
