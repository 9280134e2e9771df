package engine

import (
	"log"
	"os"
	"sync"
	"time"
)

// defaultDumpCoalesceWindow is the minimum spacing between two deferred
// dumps used when a table's config doesn't override it: a request arriving
// within the window of the last dump is delayed to lastDump+window instead
// of triggering immediately.
const defaultDumpCoalesceWindow = 250 * time.Millisecond

const (
	dumpMaxRetries    = 3
	dumpRetryBackoff  = 50 * time.Millisecond
	dumpSyncThreshold = 5
)

// dumper owns the engine's durable-dump scheduling: deferred dumps coalesce
// onto a single pending timer, and persistent failures escalate to forcing
// the next writer to wait on a synchronous attempt so the error surfaces
// synchronously instead of being silently dropped forever.
type dumper struct {
	mu            sync.Mutex
	window        time.Duration
	lastDump      time.Time
	pending       *time.Timer
	failures      int
	pendingResult chan error
	write         func() error
}

func newDumper(write func() error, window time.Duration) *dumper {
	if window <= 0 {
		window = defaultDumpCoalesceWindow
	}
	return &dumper{write: write, window: window}
}

// deferred schedules a coalesced dump. If the last dump completed more than
// the coalesce window ago, it runs immediately (on this goroutine's behalf,
// via a fresh goroutine); otherwise it is scheduled for lastDump+window.
// Only one deferred dump may be pending at a time. Once cumulative failures
// have crossed dumpSyncThreshold, the usual fire-and-forget scheduling is
// abandoned and the caller is made to wait on a synchronous attempt instead,
// so a writer cannot keep queuing deferred dumps behind a failure that is
// never actually surfaced.
func (d *dumper) deferred() error {
	d.mu.Lock()
	mustWait := d.failures >= dumpSyncThreshold
	if mustWait {
		d.mu.Unlock()
		return d.now()
	}
	if d.pending != nil {
		d.mu.Unlock()
		return nil
	}
	since := time.Since(d.lastDump)
	var delay time.Duration
	if since < d.window {
		delay = d.window - since
	}
	d.pending = time.AfterFunc(delay, func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
		d.runWithRetry()
	})
	d.mu.Unlock()
	return nil
}

// now performs a durable dump immediately, retrying transient file-not-found
// errors, and always blocks until that write (or its final failed attempt)
// completes — an "immediate" dump that returned before the write landed
// would let a caller like spin-down or a durable commit report success
// ahead of the data actually being durable.
func (d *dumper) now() error {
	result := make(chan error, 1)
	d.mu.Lock()
	d.pendingResult = result
	d.mu.Unlock()
	go d.runWithRetryNotify(result)
	return <-result
}

func (d *dumper) runWithRetry() {
	d.runWithRetryNotify(nil)
}

func (d *dumper) runWithRetryNotify(notify chan error) {
	var err error
	for attempt := 0; attempt < dumpMaxRetries; attempt++ {
		err = d.write()
		if err == nil || !os.IsNotExist(err) {
			break
		}
		time.Sleep(dumpRetryBackoff)
	}

	d.mu.Lock()
	if err != nil {
		d.failures++
		log.Printf("xflat: durable dump failed (cumulative=%d): %v", d.failures, err)
	} else {
		d.failures = 0
		d.lastDump = time.Now()
	}
	d.mu.Unlock()

	if notify != nil {
		notify <- err
	}
}
