// Package xflatcfg loads the per-table configuration that governs engine
// lifecycle timing, sharding, and id generation.
//
// Configuration can be loaded from a YAML file or built programmatically;
// DefaultConfig gives sensible values for a table that isn't sharded.
//
// Example:
//
//	cfg, err := xflatcfg.LoadConfig("./orders.table.yaml")
//	if err != nil {
//		cfg = xflatcfg.DefaultConfig()
//	}
package xflatcfg

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IDGeneratorKind names which idgen.Generator a table should use.
type IDGeneratorKind string

const (
	IDGeneratorUUID    IDGeneratorKind = "uuid"
	IDGeneratorInteger IDGeneratorKind = "integer"
)

// Config controls one table's engine lifecycle and, if sharded, its
// partitioning.
type Config struct {
	// InactivityShutdown is how long an engine (or, for a sharded table,
	// one shard) may sit idle before becoming eligible for spin-down.
	InactivityShutdown time.Duration `yaml:"inactivity_shutdown"`

	// MaintenanceInterval is the period of the background MVCC cleanup /
	// shard-retirement pass.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// DumpCoalesceWindow is the minimum spacing between two deferred
	// durable dumps.
	DumpCoalesceWindow time.Duration `yaml:"dump_coalesce_window"`

	// FullSweepEvery is how many maintenance passes occur between
	// full-cache cleanup sweeps (other passes only walk uncommittedRows).
	FullSweepEvery int `yaml:"full_sweep_every"`

	// IDGenerator selects the row-id generator.
	IDGenerator IDGeneratorKind `yaml:"id_generator"`

	// Sharded enables the sharded engine instead of a single
	// cached-document engine.
	Sharded bool `yaml:"sharded"`

	// ShardProperty is the XPath expression selecting the value each row
	// is routed on.
	ShardProperty string `yaml:"shard_property"`

	// ShardWidth and ShardBase parameterise the fixed-width interval
	// provider (see pkg/interval).
	ShardWidth float64 `yaml:"shard_width"`
	ShardBase  float64 `yaml:"shard_base"`
}

// DefaultConfig returns a Config for a small, unsharded table with
// reasonable background-task timing.
func DefaultConfig() *Config {
	return &Config{
		InactivityShutdown:  10 * time.Minute,
		MaintenanceInterval: 500 * time.Millisecond,
		DumpCoalesceWindow:  250 * time.Millisecond,
		FullSweepEvery:      10,
		IDGenerator:         IDGeneratorUUID,
	}
}

// LoadConfig reads and parses a YAML table configuration file, filling any
// zero-valued duration/count fields from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.InactivityShutdown == 0 {
		cfg.InactivityShutdown = d.InactivityShutdown
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = d.MaintenanceInterval
	}
	if cfg.DumpCoalesceWindow == 0 {
		cfg.DumpCoalesceWindow = d.DumpCoalesceWindow
	}
	if cfg.FullSweepEvery == 0 {
		cfg.FullSweepEvery = d.FullSweepEvery
	}
	if cfg.IDGenerator == "" {
		cfg.IDGenerator = d.IDGenerator
	}
}
