package xflatcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, IDGeneratorUUID, cfg.IDGenerator)
	require.Equal(t, 10*time.Minute, cfg.InactivityShutdown)
	require.False(t, cfg.Sharded)
}

func TestLoadConfig_FillsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.yaml")
	yaml := "sharded: true\nshard_property: \"./region\"\nshard_width: 100\nshard_base: 0\nid_generator: integer\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.True(t, cfg.Sharded)
	require.Equal(t, "./region", cfg.ShardProperty)
	require.Equal(t, IDGeneratorInteger, cfg.IDGenerator)
	require.Equal(t, 500*time.Millisecond, cfg.MaintenanceInterval)
	require.Equal(t, 250*time.Millisecond, cfg.DumpCoalesceWindow)
	require.Equal(t, 10, cfg.FullSweepEvery)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
