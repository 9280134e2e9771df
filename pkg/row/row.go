// Package row implements the per-row MVCC version store: a Row owns a
// mapping from transaction id to the version that transaction wrote, and
// decides under its own mutex which version a given reader should observe.
package row

import (
	"sync"

	"github.com/beevik/etree"
)

// UncommittedCommitID is the sentinel commitId carried by a RowData
// belonging to a still-open transaction.
const UncommittedCommitID int64 = -1

// Snapshot describes what a caller wants chooseMostRecentCommitted to
// resolve against: an optional transaction (read-your-own-writes, and the
// upper bound for snapshot visibility) and a hard cap on commit ids (the
// engine's reads all pass math.MaxInt64, i.e. no cap).
type Snapshot struct {
	// TxID is the caller's own transaction id. Zero-value TxPresent=false
	// means "no open transaction" (auto-commit / transactionless read).
	TxPresent bool
	TxID      int64

	// CommitCap bounds the visible commit id; pass math.MaxInt64 for "no
	// cap beyond the transaction's own visibility".
	CommitCap int64

	// Unbounded, when TxPresent is also set, disables the snapshot-style
	// "commitId <= TxID" visibility bound while still using TxID for the
	// read-your-own-writes lookup. Read-committed reads set this: they
	// must see the latest committed version regardless of when the
	// reading transaction started.
	Unbounded bool
}

// Data is a single version of a row: the writer's transaction id, the
// commit id assigned at commit time (UncommittedCommitID while open), the
// element tree for this version (nil marks a tombstone), and a back
// reference to the owning row id for callers that only hold a Data.
type Data struct {
	TransactionID int64
	CommitID      int64
	RowElement    *etree.Element
	RowID         string
}

// IsUncommitted reports whether this version's writer has not yet
// committed.
func (d Data) IsUncommitted() bool { return d.CommitID == UncommittedCommitID }

// IsTombstone reports whether this version represents a deletion.
func (d Data) IsTombstone() bool { return d.RowElement == nil }

// Clone returns a Data whose element tree is an independent copy, so that
// callers can hand it to mutators without corrupting the stored version.
func (d Data) Clone() Data {
	clone := d
	if d.RowElement != nil {
		clone.RowElement = d.RowElement.Copy()
	}
	return clone
}

// Row is the MVCC cell for a single row id: a map from transaction id to
// the version that transaction produced, guarded by its own mutex so that
// writers to different rows never contend with each other.
type Row struct {
	mu       sync.Mutex
	id       string
	versions map[int64]*Data
}

// New creates an empty Row for the given id.
func New(id string) *Row {
	return &Row{id: id, versions: make(map[int64]*Data)}
}

// ID returns the row id.
func (r *Row) ID() string { return r.id }

// Put installs a version, keyed by its TransactionID. At most one Data per
// transaction id may exist at a time; Put overwrites any prior uncommitted
// entry for the same transaction (e.g. an update(query,...) pass revisiting
// a row it already touched earlier in the same commit).
func (r *Row) Put(d Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.versions[d.TransactionID] = &cp
}

// Get returns the raw version written by txID, if any. Used by the engine's
// commit path to find the rows a transaction wrote.
func (r *Row) Get(txID int64) (Data, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.versions[txID]
	if !ok {
		return Data{}, false
	}
	return *d, true
}

// Remove deletes the version written by txID, e.g. on revert. Returns
// whether an entry with a real (committed) commit id was removed, which
// tells the caller that a fresh durable dump is required.
func (r *Row) Remove(txID int64) (hadCommittedVersion bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.versions[txID]
	if !ok {
		return false
	}
	delete(r.versions, txID)
	return d.CommitID != UncommittedCommitID
}

// SetCommitID assigns the commit id to the version written by txID. It
// must be called at most once per transaction; callers (the transaction
// manager's commit path) are responsible for that invariant.
func (r *Row) SetCommitID(txID, commitID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.versions[txID]; ok {
		d.CommitID = commitID
	}
}

// HasUncommitted reports whether any version of this row is still
// uncommitted, used to populate/maintain the cache's uncommittedRows set.
func (r *Row) HasUncommitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.versions {
		if d.CommitID == UncommittedCommitID {
			return true
		}
	}
	return false
}

// ChooseMostRecentCommitted returns the version a reader under snap should
// observe:
//
//  1. If snap carries a transaction id and that transaction wrote a
//     version of this row, that version wins (read-your-own-writes) no
//     matter its commit state.
//  2. Otherwise, among committed versions (commitId != -1) with
//     commitId <= snap.CommitCap and commitId <= snap.TxID (when a
//     transaction is present; unbounded otherwise), the one with the
//     greatest commitId wins.
//  3. If nothing qualifies, ok is false. A tombstone is a valid, "found"
//     result — callers treat a tombstone as "no row" themselves.
func (r *Row) ChooseMostRecentCommitted(snap Snapshot) (Data, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.TxPresent {
		if d, ok := r.versions[snap.TxID]; ok {
			return *d, true
		}
	}

	var best *Data
	for _, d := range r.versions {
		if d.CommitID == UncommittedCommitID {
			continue
		}
		if d.CommitID > snap.CommitCap {
			continue
		}
		if snap.TxPresent && !snap.Unbounded && d.CommitID > snap.TxID {
			continue
		}
		if best == nil || d.CommitID > best.CommitID {
			best = d
		}
	}
	if best == nil {
		return Data{}, false
	}
	return *best, true
}

// Cleanup discards superseded versions: a committed version is removed once
// a strictly newer committed version exists for the same row and no
// currently open transaction started at or before that version's commit,
// i.e. minOpenTxID (the lowest transaction id among transactions presently
// open anywhere — math.MaxInt64 if none are open) is greater than its
// commit id.
//
// Returns true when, after the pass, the row holds only tombstones or no
// entries at all — the signal the parent cache uses to physically drop
// the row under the table write lock.
func (r *Row) Cleanup(minOpenTxID int64) (emptyOrTombstonesOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for txID, d := range r.versions {
		if d.CommitID == UncommittedCommitID {
			continue
		}
		if !r.hasNewerCommittedLocked(d.CommitID) {
			continue
		}
		if minOpenTxID > d.CommitID {
			delete(r.versions, txID)
		}
	}

	if len(r.versions) == 0 {
		return true
	}
	for _, d := range r.versions {
		if !d.IsTombstone() {
			return false
		}
	}
	return true
}

func (r *Row) hasNewerCommittedLocked(commitID int64) bool {
	for _, d := range r.versions {
		if d.CommitID != UncommittedCommitID && d.CommitID > commitID {
			return true
		}
	}
	return false
}

// Len reports the number of versions currently stored, for tests and
// diagnostics.
func (r *Row) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.versions)
}

// AllVersions returns a snapshot copy of every version currently stored,
// used by the durable-dump serialiser which must see every committed
// version, not just the one a particular reader would observe.
func (r *Row) AllVersions() []Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Data, 0, len(r.versions))
	for _, d := range r.versions {
		out = append(out, *d)
	}
	return out
}
