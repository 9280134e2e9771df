package row

import (
	"math"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

func elem(text string) *etree.Element {
	e := etree.NewElement("x")
	e.SetText(text)
	return e
}

func TestChooseMostRecentCommitted_ReadYourOwnWrites(t *testing.T) {
	r := New("a")
	r.Put(Data{TransactionID: 5, CommitID: UncommittedCommitID, RowElement: elem("mine"), RowID: "a"})
	r.Put(Data{TransactionID: 1, CommitID: 1, RowElement: elem("theirs"), RowID: "a"})

	d, ok := r.ChooseMostRecentCommitted(Snapshot{TxPresent: true, TxID: 5, CommitCap: math.MaxInt64})
	require.True(t, ok)
	require.Equal(t, "mine", d.RowElement.Text())
}

func TestChooseMostRecentCommitted_LatestCommittedWins(t *testing.T) {
	r := New("a")
	r.Put(Data{TransactionID: 1, CommitID: 10, RowElement: elem("v1"), RowID: "a"})
	r.Put(Data{TransactionID: 2, CommitID: 20, RowElement: elem("v2"), RowID: "a"})

	d, ok := r.ChooseMostRecentCommitted(Snapshot{CommitCap: math.MaxInt64})
	require.True(t, ok)
	require.Equal(t, "v2", d.RowElement.Text())
}

func TestChooseMostRecentCommitted_SnapshotIsolation(t *testing.T) {
	r := New("b")
	// Tx A starts with transaction id 100.
	r.Put(Data{TransactionID: 200, CommitID: 150, RowElement: elem("later"), RowID: "b"})

	// Tx A (id 100) must not see a commit that happened after it started.
	_, ok := r.ChooseMostRecentCommitted(Snapshot{TxPresent: true, TxID: 100, CommitCap: math.MaxInt64})
	require.False(t, ok)
}

func TestCleanup_RemovesSupersededVersion(t *testing.T) {
	r := New("c")
	r.Put(Data{TransactionID: 1, CommitID: 10, RowElement: elem("old"), RowID: "c"})
	r.Put(Data{TransactionID: 2, CommitID: 20, RowElement: elem("new"), RowID: "c"})

	empty := r.Cleanup(math.MaxInt64)
	require.False(t, empty)
	require.Equal(t, 1, r.Len())
	d, ok := r.ChooseMostRecentCommitted(Snapshot{CommitCap: math.MaxInt64})
	require.True(t, ok)
	require.Equal(t, "new", d.RowElement.Text())
}

func TestCleanup_KeepsVersionVisibleToOpenTransaction(t *testing.T) {
	r := New("d")
	r.Put(Data{TransactionID: 1, CommitID: 10, RowElement: elem("old"), RowID: "d"})
	r.Put(Data{TransactionID: 2, CommitID: 20, RowElement: elem("new"), RowID: "d"})

	// The oldest open transaction (id 5) started before the older commit
	// (10), so "old" is kept.
	empty := r.Cleanup(5)
	require.False(t, empty)
	require.Equal(t, 2, r.Len())
}

func TestCleanup_TombstoneOnlyReportsEmpty(t *testing.T) {
	r := New("e")
	r.Put(Data{TransactionID: 1, CommitID: 10, RowElement: nil, RowID: "e"})

	empty := r.Cleanup(math.MaxInt64)
	require.True(t, empty)
}

func TestRemove_ReportsWhetherCommitted(t *testing.T) {
	r := New("f")
	r.Put(Data{TransactionID: 1, CommitID: UncommittedCommitID, RowElement: elem("v"), RowID: "f"})
	require.False(t, r.Remove(1))

	r.Put(Data{TransactionID: 2, CommitID: 10, RowElement: elem("v"), RowID: "f"})
	require.True(t, r.Remove(2))
}
