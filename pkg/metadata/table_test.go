package metadata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/xflatdb/xflat/pkg/engine"
	"github.com/xflatdb/xflat/pkg/idgen"
	"github.com/xflatdb/xflat/pkg/txn"
	"github.com/xflatdb/xflat/pkg/xflatcfg"
)

func newTestTable(t *testing.T, mgr *txn.Manager, path string, cfg *xflatcfg.Config) (*Table, *etree.Element) {
	t.Helper()
	var savedMeta *etree.Element
	tbl := NewTable("t", path, cfg, idgen.NewInteger(0),
		func() *engine.CachedDocumentEngine {
			return engine.New(engine.Config{Name: "t", Path: path}, mgr)
		},
		func(meta *etree.Element) error {
			savedMeta = meta
			return nil
		},
		func() *etree.Element {
			return savedMeta
		},
	)
	return tbl, savedMeta
}

func TestProvideEngine_SpinsUpOnDemand(t *testing.T) {
	dir := t.TempDir()
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	cfg := xflatcfg.DefaultConfig()
	tbl, _ := newTestTable(t, mgr, filepath.Join(dir, "t.xml"), cfg)

	e, err := tbl.ProvideEngine()
	require.NoError(t, err)
	require.Equal(t, engine.Running, e.State())
}

func TestSpinDown_PersistsMetadata(t *testing.T) {
	dir := t.TempDir()
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	cfg := xflatcfg.DefaultConfig()
	tbl, _ := newTestTable(t, mgr, filepath.Join(dir, "t.xml"), cfg)

	e, err := tbl.ProvideEngine()
	require.NoError(t, err)
	require.NoError(t, e.InsertRow(nil, "a", etree.NewElement("row")))

	_, err = tbl.SpinDown(true)
	require.NoError(t, err)
	require.Equal(t, engine.SpunDown, e.State())
	require.NotNil(t, tbl.loadMeta(), "spin-down must persist the engine-metadata element")
}

func TestCanSpinDown_RespectsInactivityThreshold(t *testing.T) {
	dir := t.TempDir()
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	cfg := xflatcfg.DefaultConfig()
	cfg.InactivityShutdown = time.Hour
	tbl, _ := newTestTable(t, mgr, filepath.Join(dir, "t.xml"), cfg)

	require.False(t, tbl.CanSpinDown(), "freshly touched table must not be spin-down eligible")
}

func TestCanSpinDown_TrueWhenEngineAbsentAndIdle(t *testing.T) {
	dir := t.TempDir()
	mgr, err := txn.NewManager("")
	require.NoError(t, err)
	defer mgr.Close()

	cfg := xflatcfg.DefaultConfig()
	cfg.InactivityShutdown = 0
	tbl, _ := newTestTable(t, mgr, filepath.Join(dir, "t.xml"), cfg)

	// No engine was ever provided: absent engine + elapsed inactivity => true.
	time.Sleep(time.Millisecond)
	require.True(t, tbl.CanSpinDown())
}
