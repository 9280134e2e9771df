// Package engine implements the cached-document engine: the MVCC cache for
// one table (or one shard of a sharded table) backed by a durable XML
// snapshot, plus the multi-state lifecycle (Uninitialised through SpunDown)
// and background maintenance that keep the two in sync.
package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/xflatdb/xflat/pkg/row"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xflaterr"
)

// TxManager is the subset of *txn.Manager a cached-document engine needs.
// The engine never reaches for a process-wide transaction manager itself;
// one is handed to it at construction (see design note on global mutable
// state) and every operation takes its transaction explicitly as a
// parameter rather than consulting ambient/thread-local state.
type TxManager interface {
	TransactionlessCommitID() int64
	AnyOpenTransactions() bool
	OldestOpenTransactionID() int64
	IsTransactionCommitted(txID int64) (int64, bool)
	IsTransactionReverted(txID int64) bool
	BindEngine(tx *txn.Transaction, engine txn.EngineBinder)
	UnbindEngineExceptFrom(engine txn.EngineBinder, keep []int64)
	// RecoverableTxIDs returns the transaction ids left open in the durable
	// recovery log when the process last exited, i.e. ids with no commit
	// record. SpinUp reverts any version it finds tagged with one of these
	// before serving operations. Returns (nil, nil) if no recovery log is
	// configured.
	RecoverableTxIDs() ([]int64, error)
}

// Config parameterises one engine instance.
type Config struct {
	// Name is the table name recorded in the root <table name=".."> element.
	Name string
	// Path is the XML file this engine durably dumps to and spins up from.
	Path string
	// MaintenanceInterval is the period of the background MVCC cleanup
	// pass. Zero uses the package default (500ms).
	MaintenanceInterval time.Duration
	// FullSweepEvery is how many maintenance passes elapse between full
	// cache sweeps; other passes only look at uncommittedRows. Zero uses
	// the package default (10).
	FullSweepEvery int
	// DumpCoalesceWindow bounds how often a deferred dump may fire. Zero
	// uses the package default (250ms).
	DumpCoalesceWindow time.Duration
}

const (
	defaultMaintenanceInterval = 500 * time.Millisecond
	defaultFullSweepEvery      = 10
)

// ReadyError is returned by an operation that waited for readiness but
// observed the engine reach SpunDown instead of Running.
var ReadyError = xflaterr.ErrEngineState

// CachedDocumentEngine is a single table's (or shard's) in-memory MVCC
// cache, its XML persistence, and its background maintenance task.
type CachedDocumentEngine struct {
	cfg Config
	tx  TxManager

	state *stateCell
	cache *cache
	dump  *dumper

	committingMu sync.Mutex
	committing   int64 // tx id currently mid-commit, or -1

	openCursors sync.WaitGroup // tracks open cursors for spin-down draining

	cancel context.CancelFunc
	doneCh chan struct{}

	onSpunDown func()
}

// New constructs an engine in state Uninitialised; call SpinUp to load any
// existing file and begin serving operations.
func New(cfg Config, tx TxManager) *CachedDocumentEngine {
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = defaultMaintenanceInterval
	}
	if cfg.FullSweepEvery <= 0 {
		cfg.FullSweepEvery = defaultFullSweepEvery
	}
	e := &CachedDocumentEngine{
		cfg:        cfg,
		tx:         tx,
		state:      newStateCell(Uninitialised),
		cache:      newCache(),
		committing: txn.UncommittedCommitID,
	}
	e.dump = newDumper(e.writeFile, cfg.DumpCoalesceWindow)
	return e
}

// State returns the engine's current lifecycle state.
func (e *CachedDocumentEngine) State() State { return e.state.Load() }

// OnSpunDown registers a callback fired once, after the engine finishes
// spinning down.
func (e *CachedDocumentEngine) OnSpunDown(fn func()) { e.onSpunDown = fn }

// SpinUp transitions Uninitialised -> SpinningUp -> SpunUp -> Running,
// loading the on-disk file (if any) into the cache and starting the
// background maintenance task. Returns true iff this call won the
// transition (only the winner should call follow-on setup).
func (e *CachedDocumentEngine) SpinUp() (bool, error) {
	if !e.state.CAS(Uninitialised, SpinningUp) {
		return false, nil
	}

	e.cache.tableLock.Lock()
	err := e.loadFile()
	e.cache.tableLock.Unlock()
	if err != nil {
		// A partially populated cache must never be exposed: force the state
		// straight to SpunDown so no operation is ever served from it.
		e.state.Set(SpunDown)
		return true, xflaterr.Wrap("SpinUp", err)
	}

	if err := e.recoverOrphanedTransactions(); err != nil {
		e.state.Set(SpunDown)
		return true, xflaterr.Wrap("SpinUp", err)
	}

	e.state.CAS(SpinningUp, SpunUp)
	e.beginOperations()
	e.state.CAS(SpunUp, Running)
	return true, nil
}

// beginOperations starts the periodic maintenance task. Only called by the
// SpinUp winner.
func (e *CachedDocumentEngine) beginOperations() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.doneCh = make(chan struct{})
	go e.maintenanceLoop(ctx)
}

// awaitRunning blocks until the engine reaches Running, or returns
// ReadyError if it instead reaches SpunDown. Used by every public operation
// so a call arriving during SpinningUp waits rather than failing outright.
func (e *CachedDocumentEngine) awaitRunning() error {
	for {
		switch e.state.Load() {
		case Running:
			return nil
		case SpunDown:
			return ReadyError
		default:
			<-e.state.readyChan()
		}
	}
}

func (e *CachedDocumentEngine) loadFile() error {
	data, err := os.ReadFile(e.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return err
	}
	versions := deserialize(doc)
	for id, ds := range versions {
		r := e.cache.getOrCreate(id)
		for _, d := range ds {
			r.Put(d)
		}
		if r.HasUncommitted() {
			e.cache.markUncommitted(id)
		}
	}
	return nil
}

// recoverOrphanedTransactions reverts any version this engine just loaded
// that belongs to a transaction the recovery log says was still open when
// the process last exited. It runs once, synchronously, before SpinUp
// exposes the engine as Running, so a caller never observes a row carrying
// a version from a transaction that can no longer ever commit.
func (e *CachedDocumentEngine) recoverOrphanedTransactions() error {
	ids, err := e.tx.RecoverableTxIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.Revert(id, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *CachedDocumentEngine) writeFile() error {
	e.cache.tableLock.RLock()
	var rows []*row.Row
	e.cache.forEach(func(r *row.Row) { rows = append(rows, r) })
	doc := serialize(e.cfg.Name, rows, e.allVersionsOf)
	e.cache.tableLock.RUnlock()

	tmp := e.cfg.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := doc.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, e.cfg.Path)
}

// allVersionsOf reads back every version a Row currently holds, for the
// dump serialiser.
func (e *CachedDocumentEngine) allVersionsOf(r *row.Row) []row.Data {
	return r.AllVersions()
}
