// Package metadata implements the table-metadata manager: the component
// that owns one engine per logical table, spinning it up on first access
// and down after a period of inactivity, and persisting the engine's
// round-tripped metadata element across that cycle.
package metadata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"

	"github.com/xflatdb/xflat/pkg/engine"
	"github.com/xflatdb/xflat/pkg/idgen"
	"github.com/xflatdb/xflat/pkg/xflatcfg"
)

// EngineFactory constructs a fresh, not-yet-spun-up engine for this table.
// Supplied at construction so Table never imports concrete engine wiring
// decisions (path layout, transaction manager) itself.
type EngineFactory func() *engine.CachedDocumentEngine

// spinWait is the short busy-wait a losing CAS performs for the winner to
// reach Running before recursing into provideEngine again.
const spinWait = 250 * time.Nanosecond

// Table owns one table's engine lifecycle: the file path, the persisted
// engine-metadata element, the id generator, and the idle-timer bookkeeping
// that drives canSpinDown.
type Table struct {
	Name       string
	Path       string
	Config     *xflatcfg.Config
	IDGen      idgen.Generator
	newEngine  EngineFactory
	saveMeta   func(meta *etree.Element) error
	loadMeta   func() *etree.Element

	mu           sync.Mutex
	meta         *etree.Element
	lastActivity atomic.Int64 // unix nano

	cell atomic.Pointer[engine.CachedDocumentEngine]
}

// NewTable constructs a Table. saveMeta/loadMeta persist the table's
// engine-metadata element (e.g. as one <engine> child of a parent
// table-metadata XML file); loadMeta may return nil if none exists yet.
func NewTable(name, path string, cfg *xflatcfg.Config, idGen idgen.Generator, newEngine EngineFactory, saveMeta func(*etree.Element) error, loadMeta func() *etree.Element) *Table {
	t := &Table{
		Name:      name,
		Path:      path,
		Config:    cfg,
		IDGen:     idGen,
		newEngine: newEngine,
		saveMeta:  saveMeta,
		loadMeta:  loadMeta,
	}
	t.lastActivity.Store(time.Now().UnixNano())
	return t
}

// touch records activity now, resetting the inactivity clock canSpinDown
// consults.
func (t *Table) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// ProvideEngine returns a running engine, spinning one up on demand if
// absent or previously spun down. Only the goroutine whose CAS installs the
// new engine also calls the follow-on setup (loading metadata); a losing
// goroutine spin-waits briefly for the winner to reach Running before
// retrying.
func (t *Table) ProvideEngine() (*engine.CachedDocumentEngine, error) {
	t.touch()

	existing := t.cell.Load()
	if existing != nil && existing.State() != engine.SpunDown {
		if err := t.waitRunningOrRetry(existing); err != nil {
			return nil, err
		}
		if existing.State() == engine.Running {
			return existing, nil
		}
	}

	fresh := t.newEngine()
	if !t.cell.CompareAndSwap(existing, fresh) {
		time.Sleep(spinWait)
		return t.ProvideEngine()
	}

	t.mu.Lock()
	if t.meta == nil {
		t.meta = t.loadMeta()
	}
	meta := t.meta
	t.mu.Unlock()
	if meta != nil {
		t.IDGen.LoadState(meta)
	}

	won, err := fresh.SpinUp()
	if err != nil {
		return nil, err
	}
	_ = won // only SpinUp's internal winner calls beginOperations; always true here since fresh is ours alone
	return fresh, nil
}

func (t *Table) waitRunningOrRetry(e *engine.CachedDocumentEngine) error {
	switch e.State() {
	case engine.Running:
		return nil
	case engine.SpunDown:
		return nil
	default:
		// SpinningUp/SpunUp: another goroutine is already bringing it up.
		// A bounded spin here mirrors the source's short busy-wait.
		deadline := time.Now().Add(50 * time.Millisecond)
		for time.Now().Before(deadline) {
			if e.State() == engine.Running || e.State() == engine.SpunDown {
				return nil
			}
			time.Sleep(spinWait)
		}
		return nil
	}
}

// SpinDown, if the current engine has no uncommitted data (or force is
// set), spins it down and persists its metadata element so the next
// spin-up resumes from it. It takes no lock on the engine before the
// uncommitted-data check; the engine's table write lock is not acquired
// here.
func (t *Table) SpinDown(force bool) (*engine.CachedDocumentEngine, error) {
	e := t.cell.Load()
	if e == nil {
		return nil, nil
	}
	if !force && e.HasUncommittedData() {
		return e, nil
	}

	t.cell.CompareAndSwap(e, nil)

	if err := e.SpinDown(); err != nil {
		e.ForceSpinDown()
	}

	t.mu.Lock()
	meta := t.meta
	if meta == nil {
		meta = etree.NewElement("engine")
		t.meta = meta
	}
	t.IDGen.SaveState(meta)
	err := t.saveMeta(meta)
	t.mu.Unlock()

	return nil, err
}

// CanSpinDown reports whether this table's engine has been idle longer
// than its configured inactivity threshold and carries no uncommitted
// data. An absent engine (never spun up, or already spun down) counts as
// "no uncommitted data" but the inactivity threshold is still enforced
// against the table's own last-activity clock — per the resolved ambiguity
// in the source's canSpinDown expression, "engine absent" must not bypass
// the idle-time check.
func (t *Table) CanSpinDown() bool {
	idleFor := time.Since(time.Unix(0, t.lastActivity.Load()))
	if idleFor < t.Config.InactivityShutdown {
		return false
	}
	e := t.cell.Load()
	if e == nil {
		return true
	}
	return !e.HasUncommittedData()
}
