// Package sharded implements the sharded engine base: a router that
// partitions a logical table into many cached-document engines keyed by
// half-open value intervals, creating children lazily and retiring them on
// inactivity.
package sharded

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	lock "github.com/viney-shih/go-lock"

	"github.com/xflatdb/xflat/pkg/engine"
	"github.com/xflatdb/xflat/pkg/interval"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xflaterr"
	"github.com/xflatdb/xflat/pkg/xpath"
)

// ChildFactory creates a fresh, not-yet-spun-up child engine for one shard
// interval, wired to this table's transaction manager and persistence
// directory; getEngine spins it up. Supplied by the table-metadata manager so the sharded engine
// never constructs engines directly (keeps the cyclic engine<->metadata
// ownership one-directional, per the core's design notes).
type ChildFactory[T any] func(iv interval.Interval[T], path string) *engine.CachedDocumentEngine

// Config parameterises a sharded engine instance.
type Config[T any] struct {
	Dir                string
	Selector           xpath.ValueSelector[T]
	Provider           interval.Provider[T]
	RetirementInterval time.Duration
	InactivityShutdown time.Duration
	NewChild           ChildFactory[T]
	// PersistMetadata is called with a shard's name once the background
	// retirement pass has fully spun that shard down, so its round-tripped
	// state (e.g. an id generator's counter) survives to the next time
	// that shard is created. The parent's own SpinDown and ForceSpinDown
	// do not call it. Supplied by whatever owns the metadata factory for this
	// table, alongside NewChild. Nil skips persistence.
	PersistMetadata func(name string) error
}

const defaultRetirementInterval = 500 * time.Millisecond

type shardEntry struct {
	engine       *engine.CachedDocumentEngine
	lastActivity time.Time
	mu           sync.Mutex
}

// Engine routes operations to child cached-document engines keyed by
// Interval[T], lazily creating children and retiring idle ones in the
// background.
type Engine[T any] struct {
	cfg Config[T]

	state *stateCell

	mu         sync.Mutex
	openShards map[string]*shardEntry
	known      map[string]interval.Interval[T]

	spinDownRoot lock.Mutex
	spinningDown map[string]*shardEntry

	cancel context.CancelFunc
	doneCh chan struct{}

	onSpunDown func()
}

// New constructs a sharded engine over cfg.Dir; call SpinUp to discover
// existing shard files before serving operations.
func New[T any](cfg Config[T]) *Engine[T] {
	if cfg.RetirementInterval <= 0 {
		cfg.RetirementInterval = defaultRetirementInterval
	}
	return &Engine[T]{
		cfg:          cfg,
		state:        newStateCell(Uninitialised),
		openShards:   make(map[string]*shardEntry),
		known:        make(map[string]interval.Interval[T]),
		spinDownRoot: lock.NewCASMutex(),
		spinningDown: make(map[string]*shardEntry),
	}
}

// OnSpunDown registers a callback fired once spin-down completes.
func (e *Engine[T]) OnSpunDown(fn func()) { e.onSpunDown = fn }

// State returns the sharded engine's lifecycle state.
func (e *Engine[T]) State() State { return e.state.Load() }

// SpinUp scans cfg.Dir for "*.xml" shard files, populating known from their
// names via the interval provider, then starts the background retirement
// task.
func (e *Engine[T]) SpinUp() error {
	if !e.state.CAS(Uninitialised, SpinningUp) {
		return nil
	}
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		e.state.Set(SpunDown)
		return xflaterr.Wrap("sharded.SpinUp", err)
	}
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		e.state.Set(SpunDown)
		return xflaterr.Wrap("sharded.SpinUp", err)
	}
	e.mu.Lock()
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".xml") {
			continue
		}
		name := strings.TrimSuffix(ent.Name(), ".xml")
		if iv, ok := e.cfg.Provider.Parse(name); ok {
			e.known[name] = iv
		}
	}
	e.mu.Unlock()

	e.state.CAS(SpinningUp, SpunUp)
	e.beginOperations()
	e.state.CAS(SpunUp, Running)
	return nil
}

func (e *Engine[T]) beginOperations() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.doneCh = make(chan struct{})
	go e.retirementLoop(ctx)
}

func (e *Engine[T]) awaitRunning() error {
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

// route evaluates cfg.Selector against element and resolves the child
// engine responsible for the resulting value, creating one if necessary.
func (e *Engine[T]) route(element *etree.Element) (*engine.CachedDocumentEngine, error) {
	value, err := e.cfg.Selector.Select(element)
	if err != nil {
		return nil, fmt.Errorf("sharded: routing selector %q failed: %w", e.cfg.Selector.Expression(), err)
	}
	iv := e.cfg.Provider.GetInterval(value)
	return e.getEngine(iv)
}

// getEngine resolves (lazily creating if necessary) the child engine for
// iv.
func (e *Engine[T]) getEngine(iv interval.Interval[T]) (*engine.CachedDocumentEngine, error) {
	name := e.cfg.Provider.Name(iv)

	e.mu.Lock()
	if entry, ok := e.openShards[name]; ok {
		e.mu.Unlock()
		entry.mu.Lock()
		entry.lastActivity = time.Now()
		entry.mu.Unlock()
		return entry.engine, nil
	}
	e.mu.Unlock()

	e.spinDownRoot.Lock()
	defer e.spinDownRoot.Unlock()

	if e.state.Load() == SpunDown {
		return nil, ReadyError
	}

	e.mu.Lock()
	if entry, ok := e.openShards[name]; ok {
		e.mu.Unlock()
		return entry.engine, nil
	}
	e.mu.Unlock()

	path := filepath.Join(e.cfg.Dir, name+".xml")
	child := e.cfg.NewChild(iv, path)
	if _, err := child.SpinUp(); err != nil {
		return nil, err
	}

	entry := &shardEntry{engine: child, lastActivity: time.Now()}
	e.mu.Lock()
	e.openShards[name] = entry
	e.known[name] = iv
	e.mu.Unlock()

	if e.state.Load() == SpinningDown {
		e.mu.Lock()
		e.spinningDown[name] = entry
		e.mu.Unlock()
	}
	return entry.engine, nil
}

// withChild runs fn against the child engine resolved for element,
// retrying exactly once if the child spun down between lookup and call.
func (e *Engine[T]) withChild(element *etree.Element, fn func(*engine.CachedDocumentEngine) error) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	child, err := e.route(element)
	if err != nil {
		return err
	}
	err = fn(child)
	if err == xflaterr.ErrEngineState {
		child, err2 := e.route(element)
		if err2 != nil {
			return err2
		}
		return fn(child)
	}
	return err
}

// InsertRow routes element to its shard via cfg.Selector and inserts it.
func (e *Engine[T]) InsertRow(tx *txn.Transaction, id string, element *etree.Element) error {
	return e.withChild(element, func(c *engine.CachedDocumentEngine) error {
		return c.InsertRow(tx, id, element)
	})
}

// openOrKnownEngines resolves every currently open shard plus every shard
// known from disk but not yet spun up, for operations keyed only by row id
// (read/replace/update/delete), which have no element to route on until
// they find the row that holds it.
func (e *Engine[T]) openOrKnownEngines() ([]*engine.CachedDocumentEngine, error) {
	e.mu.Lock()
	names := make(map[string]interval.Interval[T], len(e.known))
	for name, iv := range e.known {
		names[name] = iv
	}
	e.mu.Unlock()

	engines := make([]*engine.CachedDocumentEngine, 0, len(names))
	for _, iv := range names {
		c, err := e.getEngine(iv)
		if err != nil {
			return nil, err
		}
		engines = append(engines, c)
	}
	return engines, nil
}

// ReadRow broadcasts to every known shard until one reports a visible row.
func (e *Engine[T]) ReadRow(tx *txn.Transaction, id string) (*etree.Element, bool, error) {
	if err := e.awaitRunning(); err != nil {
		return nil, false, err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return nil, false, err
	}
	for _, c := range engines {
		elem, ok, err := c.ReadRow(tx, id)
		if err != nil {
			continue
		}
		if ok {
			return elem, true, nil
		}
	}
	return nil, false, nil
}

// ReplaceRow broadcasts to every known shard, replacing the row on whichever
// one currently holds a visible version.
func (e *Engine[T]) ReplaceRow(tx *txn.Transaction, id string, element *etree.Element) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return err
	}
	for _, c := range engines {
		if err := c.ReplaceRow(tx, id, element); err == nil {
			return nil
		}
	}
	return xflaterr.ErrKeyNotFound
}

// DeleteRow broadcasts to every known shard, tombstoning the row on
// whichever one currently holds a visible version.
func (e *Engine[T]) DeleteRow(tx *txn.Transaction, id string) error {
	if err := e.awaitRunning(); err != nil {
		return err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return err
	}
	for _, c := range engines {
		if err := c.DeleteRow(tx, id); err == nil {
			return nil
		}
	}
	return xflaterr.ErrKeyNotFound
}

// UpdateRow broadcasts to every known shard, applying mutator on whichever
// one currently holds a visible version of id.
func (e *Engine[T]) UpdateRow(tx *txn.Transaction, id string, mutator xpath.RowMutator) (bool, error) {
	if err := e.awaitRunning(); err != nil {
		return false, err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return false, err
	}
	for _, c := range engines {
		changed, err := c.UpdateRow(tx, id, mutator)
		if err == nil {
			return changed, nil
		}
	}
	return false, xflaterr.ErrKeyNotFound
}

// UpdateQuery fans the query out across every known shard, summing the
// number of rows changed.
func (e *Engine[T]) UpdateQuery(tx *txn.Transaction, matcher xpath.RowMatcher, mutator xpath.RowMutator) (int, error) {
	if err := e.awaitRunning(); err != nil {
		return 0, err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range engines {
		n, err := c.UpdateQuery(tx, matcher, mutator)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeleteAll fans the query out across every known shard, summing the
// number of rows tombstoned.
func (e *Engine[T]) DeleteAll(tx *txn.Transaction, matcher xpath.RowMatcher) (int, error) {
	if err := e.awaitRunning(); err != nil {
		return 0, err
	}
	engines, err := e.openOrKnownEngines()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range engines {
		n, err := c.DeleteAll(tx, matcher)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// UpsertRow routes element to its shard via cfg.Selector; if no visible
// version exists there it is an insert, otherwise a replace.
func (e *Engine[T]) UpsertRow(tx *txn.Transaction, id string, element *etree.Element) (bool, error) {
	var inserted bool
	err := e.withChild(element, func(c *engine.CachedDocumentEngine) error {
		var err error
		inserted, err = c.UpsertRow(tx, id, element)
		return err
	})
	return inserted, err
}

// GetEngineForValue exposes routing for callers (readRow-by-key style
// operations) that already know the shard value without re-deriving it
// from an element, e.g. a façade doing a point lookup by shard key.
func (e *Engine[T]) GetEngineForValue(value T) (*engine.CachedDocumentEngine, error) {
	if err := e.awaitRunning(); err != nil {
		return nil, err
	}
	return e.getEngine(e.cfg.Provider.GetInterval(value))
}

// OpenShardNames returns the names of every currently open shard, for
// diagnostics and tests.
func (e *Engine[T]) OpenShardNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.openShards))
	for name := range e.openShards {
		names = append(names, name)
	}
	return names
}
