package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errWriteConflict = errors.New("write conflict")

type fakeEngine struct {
	commitErr error
	committed []int64
	reverted  []int64
}

func (f *fakeEngine) Commit(txID, commitID int64, isolation Isolation, durable bool) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, txID)
	return nil
}

func (f *fakeEngine) Revert(txID int64, isRecovering bool) error {
	f.reverted = append(f.reverted, txID)
	return nil
}

func TestBeginAllocatesMonotonicIDs(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	defer m.Close()

	tx1, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	tx2, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	require.Greater(t, tx2.ID(), tx1.ID())
}

func TestCommitAppliesAcrossBoundEngines(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.Begin(Snapshot)
	require.NoError(t, err)

	e1, e2 := &fakeEngine{}, &fakeEngine{}
	m.BindEngine(tx, e1)
	m.BindEngine(tx, e2)

	require.NoError(t, m.Commit(tx, CommitOptions{}))
	require.Equal(t, []int64{tx.ID()}, e1.committed)
	require.Equal(t, []int64{tx.ID()}, e2.committed)

	commitID, ok := m.IsTransactionCommitted(tx.ID())
	require.True(t, ok)
	require.Greater(t, commitID, tx.ID())
}

func TestCommitRevertsEverywhereOnFailure(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.Begin(Snapshot)
	require.NoError(t, err)

	ok := &fakeEngine{}
	bad := &fakeEngine{commitErr: errWriteConflict}
	m.BindEngine(tx, ok)
	m.BindEngine(tx, bad)

	err = m.Commit(tx, CommitOptions{})
	require.Error(t, err)
	require.True(t, m.IsTransactionReverted(tx.ID()))
	require.Equal(t, []int64{tx.ID()}, ok.reverted)
	require.Equal(t, []int64{tx.ID()}, bad.reverted)
}

func TestCommitRevertsEngineNotYetReachedWhenAnEarlierOneFails(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.Begin(Snapshot)
	require.NoError(t, err)

	a := &fakeEngine{}
	b := &fakeEngine{commitErr: errWriteConflict}
	c := &fakeEngine{}

	// boundEngines() iterates a map, so bind order doesn't pin iteration
	// order; force it for this test via an orderedFakeEngine wrapper isn't
	// worth the trouble — instead assert all three end up reverted
	// regardless of where in the loop b's failure lands.
	m.BindEngine(tx, a)
	m.BindEngine(tx, b)
	m.BindEngine(tx, c)

	err = m.Commit(tx, CommitOptions{})
	require.Error(t, err)
	require.True(t, m.IsTransactionReverted(tx.ID()))
	require.Equal(t, []int64{tx.ID()}, a.reverted)
	require.Equal(t, []int64{tx.ID()}, b.reverted)
	require.Equal(t, []int64{tx.ID()}, c.reverted, "an engine the commit loop never reached before the failure must still be reverted")
}

func TestUnbindEngineExceptFrom(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	defer m.Close()

	tx1, _ := m.Begin(ReadCommitted)
	tx2, _ := m.Begin(ReadCommitted)
	e := &fakeEngine{}
	m.BindEngine(tx1, e)
	m.BindEngine(tx2, e)

	m.UnbindEngineExceptFrom(e, []int64{tx2.ID()})

	require.NotContains(t, tx1.boundEngines(), e)
	require.Contains(t, tx2.boundEngines(), e)
}
