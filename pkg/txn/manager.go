package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/xflatdb/xflat/pkg/xflaterr"
)

// Manager allocates transaction and commit ids, tracks every transaction's
// commit/revert state, and fans out commit/revert calls across the
// engines a transaction touched. It is process-wide but, per the core's
// design, is always passed explicitly into whatever constructs an engine
// rather than reached for via ambient/global state.
type Manager struct {
	mu            sync.Mutex
	lastAllocated int64
	lastCommit    int64
	transactions  map[int64]*Transaction
	log           *recoveryLog
}

// NewManager opens (creating if absent) the crash-recovery log under dir
// and returns a ready Manager. Pass "" for an in-memory-only manager
// (tests, or a table config that opts out of crash recovery).
func NewManager(dir string) (*Manager, error) {
	var log *recoveryLog
	if dir != "" {
		l, err := openRecoveryLog(dir)
		if err != nil {
			return nil, xflaterr.Wrap("txn.NewManager", err)
		}
		log = l
	}
	return &Manager{
		transactions: make(map[int64]*Transaction),
		log:          log,
	}, nil
}

// Close releases the recovery log, if any.
func (m *Manager) Close() error {
	if m.log == nil {
		return nil
	}
	return m.log.close()
}

// allocateLocked enforces the clock-skew guard: the returned id is always
// strictly greater than the last one handed out, even if the wall clock
// goes backwards or stalls between calls.
func (m *Manager) allocateLocked() int64 {
	now := time.Now().UnixNano()
	next := m.lastAllocated + 1
	if now > next {
		next = now
	}
	m.lastAllocated = next
	return next
}

// Begin allocates a new transaction id and registers it as open, durably
// if a recovery log is configured.
func (m *Manager) Begin(isolation Isolation) (*Transaction, error) {
	m.mu.Lock()
	id := m.allocateLocked()
	tx := &Transaction{id: id, isolation: isolation, commitID: UncommittedCommitID}
	m.transactions[id] = tx
	m.mu.Unlock()

	if m.log != nil {
		if err := m.log.markOpen(id); err != nil {
			return nil, xflaterr.Wrap("txn.Begin", err)
		}
	}
	return tx, nil
}

// TransactionlessCommitID allocates a fresh globally ordered commit id for
// an auto-commit write that has no enclosing transaction.
func (m *Manager) TransactionlessCommitID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocateLocked()
	if id > m.lastCommit {
		m.lastCommit = id
	}
	return id
}

// AnyOpenTransactions reports whether at least one transaction anywhere is
// still open. The cached-document engine consults this to decide whether
// a freshly-dirtied row must be indexed into uncommittedRows even for
// writers other than the one making the current open transaction.
func (m *Manager) AnyOpenTransactions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.IsOpen() {
			return true
		}
	}
	return false
}

// OldestOpenTransactionID returns the lowest transaction id among
// currently open transactions, or math.MaxInt64 if none are open. Engines
// use this as the cleanup-pass watermark.
func (m *Manager) OldestOpenTransactionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var min int64 = maxInt64
	for _, tx := range m.transactions {
		if tx.IsOpen() && tx.id < min {
			min = tx.id
		}
	}
	return min
}

const maxInt64 = int64(^uint64(0) >> 1)

// IsTransactionCommitted returns the commit id assigned to txID, or
// (UncommittedCommitID, false) if txID is unknown or not yet committed.
func (m *Manager) IsTransactionCommitted(txID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return UncommittedCommitID, false
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != statusCommitted {
		return UncommittedCommitID, false
	}
	return tx.commitID, true
}

// IsTransactionReverted reports whether txID is known and was reverted.
func (m *Manager) IsTransactionReverted(txID int64) bool {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status == statusReverted
}

// BindEngine records that tx has written through engine, so that a
// cross-engine commit failure or a crash can find every engine that needs
// to revert tx.
func (m *Manager) BindEngine(tx *Transaction, engine EngineBinder) {
	tx.bind(engine)
}

// UnbindEngineExceptFrom is called by an engine's background maintenance
// pass once it has finished a cleanup sweep: it tells the manager "I am
// done referencing every transaction except these still-open ones",
// letting the manager drop the (transaction, engine) binding for
// everything else so a long-lived transaction doesn't pin engines it no
// longer touches in this one's cache.
func (m *Manager) UnbindEngineExceptFrom(engine EngineBinder, keep []int64) {
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	m.mu.Lock()
	txs := make([]*Transaction, 0, len(m.transactions))
	for _, tx := range m.transactions {
		txs = append(txs, tx)
	}
	m.mu.Unlock()

	for _, tx := range txs {
		if _, keep := keepSet[tx.id]; keep {
			continue
		}
		tx.mu.Lock()
		if tx.engines != nil {
			delete(tx.engines, engine)
		}
		tx.mu.Unlock()
	}
}

// CommitOptions controls how a commit is durably applied.
type CommitOptions struct {
	// Durable requests an immediate dump rather than a deferred,
	// coalesced one once the commit has been applied in-memory.
	Durable bool
}

// Commit assigns tx a commit id and applies it across every engine tx is
// bound to. If any engine rejects the commit (most commonly
// ErrWriteConflict under snapshot isolation), the transaction is reverted
// on every engine it touched and the triggering error is returned.
func (m *Manager) Commit(tx *Transaction, opts CommitOptions) error {
	if !tx.IsOpen() {
		return xflaterr.ErrIllegalTransactionState
	}

	m.mu.Lock()
	commitID := m.allocateLocked()
	if commitID > m.lastCommit {
		m.lastCommit = commitID
	}
	m.mu.Unlock()

	engines := tx.boundEngines()
	for _, e := range engines {
		if err := e.Commit(tx.id, commitID, tx.isolation, opts.Durable); err != nil {
			// Every engine tx was bound to must be reverted, not just the
			// ones already committed plus the one that just rejected —
			// engines this loop had not yet reached still hold tx's
			// uncommitted writes and would otherwise never be told tx is
			// dead.
			m.revertOn(tx, engines)
			tx.markReverted()
			if m.log != nil {
				_ = m.log.clear(tx.id)
			}
			return fmt.Errorf("txn: commit rejected by engine: %w", err)
		}
	}

	if err := tx.markCommitted(commitID); err != nil {
		return err
	}
	if m.log != nil {
		if err := m.log.clear(tx.id); err != nil {
			return xflaterr.Wrap("txn.Commit", err)
		}
	}
	return nil
}

// Revert discards tx's writes on every engine it is bound to.
func (m *Manager) Revert(tx *Transaction) error {
	if !tx.IsOpen() {
		return xflaterr.ErrIllegalTransactionState
	}
	m.revertOn(tx, tx.boundEngines())
	tx.markReverted()
	if m.log != nil {
		return xflaterr.Wrap("txn.Revert", m.log.clear(tx.id))
	}
	return nil
}

func (m *Manager) revertOn(tx *Transaction, engines []EngineBinder) {
	for _, e := range engines {
		_ = e.Revert(tx.id, false)
	}
}

// RecoverableTxIDs returns the transaction ids that were left open in the
// durable log when the process last exited — i.e. ids with no commit
// record, which an engine's spin-up path must revert wherever it finds
// them in its on-disk snapshot.
func (m *Manager) RecoverableTxIDs() ([]int64, error) {
	if m.log == nil {
		return nil, nil
	}
	return m.log.openTxIDs()
}
