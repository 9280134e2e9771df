package sharded

import (
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/xflatdb/xflat/pkg/engine"
	"github.com/xflatdb/xflat/pkg/interval"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xpath"
)

func intSelector() xpath.ValueSelector[int64] {
	return xpath.ValueSelectorFunc[int64]{
		Expr: "./shardKey",
		Fn: func(row *etree.Element) (int64, error) {
			child := row.SelectElement("shardKey")
			return strconv.ParseInt(child.Text(), 10, 64)
		},
	}
}

func newTestSharded(t *testing.T, mgr *txn.Manager) *Engine[int64] {
	t.Helper()
	dir := t.TempDir()
	provider := interval.NewInt64Provider(100, 0)
	cfg := Config[int64]{
		Dir:                dir,
		Selector:           intSelector(),
		Provider:           provider,
		InactivityShutdown: 0,
		NewChild: func(iv interval.Interval[int64], path string) *engine.CachedDocumentEngine {
			return engine.New(engine.Config{Name: provider.Name(iv), Path: path}, mgr)
		},
	}
	e := New(cfg)
	require.NoError(t, e.SpinUp())
	return e
}

func rowWithShardKey(value int64) *etree.Element {
	e := etree.NewElement("row")
	k := e.CreateElement("shardKey")
	k.SetText(strconv.FormatInt(value, 10))
	return e
}

func TestShardRouting_ScenarioFive(t *testing.T) {
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	e := newTestSharded(t, mgr)

	require.NoError(t, e.InsertRow(nil, "a", rowWithShardKey(5)))
	require.NoError(t, e.InsertRow(nil, "b", rowWithShardKey(105)))
	require.NoError(t, e.InsertRow(nil, "c", rowWithShardKey(-95)))

	names := e.OpenShardNames()
	require.ElementsMatch(t, []string{"0", "100", "-100"}, names)

	require.NoError(t, e.InsertRow(nil, "d", rowWithShardKey(205)))
	names = e.OpenShardNames()
	require.Contains(t, names, "200")
}

func TestReadRow_BroadcastsAcrossShards(t *testing.T) {
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	e := newTestSharded(t, mgr)
	require.NoError(t, e.InsertRow(nil, "a", rowWithShardKey(150)))

	elem, ok, err := e.ReadRow(nil, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "150", elem.SelectElement("shardKey").Text())

	_, ok, err = e.ReadRow(nil, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRetirement_PersistsMetadataOnceShardSpinsDown(t *testing.T) {
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	dir := t.TempDir()
	provider := interval.NewInt64Provider(100, 0)

	var mu sync.Mutex
	var persisted []string

	cfg := Config[int64]{
		Dir:                dir,
		Selector:           intSelector(),
		Provider:           provider,
		RetirementInterval: 5 * time.Millisecond,
		InactivityShutdown: 0,
		NewChild: func(iv interval.Interval[int64], path string) *engine.CachedDocumentEngine {
			return engine.New(engine.Config{Name: provider.Name(iv), Path: path}, mgr)
		},
		PersistMetadata: func(name string) error {
			mu.Lock()
			persisted = append(persisted, name)
			mu.Unlock()
			return nil
		},
	}
	e := New(cfg)
	require.NoError(t, e.SpinUp())
	defer e.ForceSpinDown()

	require.NoError(t, e.InsertRow(nil, "a", rowWithShardKey(5)))
	require.Contains(t, e.OpenShardNames(), "0")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(persisted) > 0
	}, time.Second, 5*time.Millisecond, "expected retirement to persist the retired shard's metadata")

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, persisted, "0")
	require.NotContains(t, e.OpenShardNames(), "0")
}
