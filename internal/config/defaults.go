package config

import (
	"path/filepath"
	"time"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// PathsDefaultApplier handles directory defaults.
type PathsDefaultApplier struct{}

func (PathsDefaultApplier) Domain() string { return "paths" }

func (PathsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.StagesDir == "" {
		cfg.StagesDir = "stages"
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "."
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".docstage"
	}
	return nil
}

// BuildDefaultApplier handles Build configuration defaults.
type BuildDefaultApplier struct{}

func (BuildDefaultApplier) Domain() string { return "build" }

func (BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Build.Workers <= 0 {
		cfg.Build.Workers = 4
	}
	r := &cfg.Build.Retry
	if r.Mode == "" {
		r.Mode = RetryBackoffExponential
	} else if m := NormalizeRetryBackoff(string(r.Mode)); m != "" {
		r.Mode = m
	}
	if r.Initial <= 0 {
		r.Initial = 2 * time.Second
	}
	if r.Max <= 0 {
		r.Max = 30 * time.Second
	}
	if r.MaxRetries == nil {
		n := 3
		r.MaxRetries = &n
	}
	return nil
}

// GeneratorDefaultApplier handles generator defaults.
type GeneratorDefaultApplier struct{}

func (GeneratorDefaultApplier) Domain() string { return "generator" }

func (GeneratorDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Generator.Timeout <= 0 {
		cfg.Generator.Timeout = 5 * time.Minute
	}
	return nil
}

// StoreDefaultApplier handles fingerprint store defaults.
type StoreDefaultApplier struct{}

func (StoreDefaultApplier) Domain() string { return "store" }

func (StoreDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFS
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.StateDir, "records.db")
	}
	if cfg.Store.Backend == StoreNATS && cfg.Store.NATSBucket == "" {
		cfg.Store.NATSBucket = "docstage_records"
	}
	if cfg.Events.Enabled && cfg.Events.Path == "" {
		cfg.Events.Path = filepath.Join(cfg.StateDir, "history.db")
	}
	return nil
}

// defaultAppliers run in order; later appliers may rely on earlier ones.
var defaultAppliers = []DefaultApplier{
	PathsDefaultApplier{},
	BuildDefaultApplier{},
	GeneratorDefaultApplier{},
	StoreDefaultApplier{},
}

func applyDefaults(cfg *Config) error {
	for _, applier := range defaultAppliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}
