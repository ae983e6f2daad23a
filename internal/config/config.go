// Package config loads and validates the docstage project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// DefaultFileName is the configuration file looked up when none is given.
const DefaultFileName = "docstage.yaml"

// Config represents the project configuration.
type Config struct {
	// StagesDir holds the stage declarations (*.md headers and *.hcl blocks).
	StagesDir string `yaml:"stages_dir"`
	// OutputRoot is the directory output locators are resolved against.
	OutputRoot string `yaml:"output_root"`
	// StateDir holds the fingerprint store and run history.
	StateDir string `yaml:"state_dir"`

	Build     BuildConfig     `yaml:"build"`
	Generator GeneratorConfig `yaml:"generator"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// path is the absolute location of the loaded file; relative paths above are
	// resolved against its directory.
	path string
}

// BuildConfig controls orchestration.
type BuildConfig struct {
	Workers int         `yaml:"workers"`
	Retry   RetryConfig `yaml:"retry"`
}

// RetryConfig controls retries of transient generation failures.
type RetryConfig struct {
	Mode       RetryBackoffMode `yaml:"mode"`
	Initial    time.Duration    `yaml:"initial"`
	Max        time.Duration    `yaml:"max"`
	MaxRetries *int             `yaml:"max_retries,omitempty"`
}

// GeneratorConfig selects and configures the generation collaborator.
// Exactly one of Command or Endpoint must be set.
type GeneratorConfig struct {
	Command  string        `yaml:"command,omitempty"`
	Args     []string      `yaml:"args,omitempty"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
	Model    string        `yaml:"model,omitempty"`
}

// StoreBackend selects the fingerprint store implementation.
type StoreBackend string

const (
	StoreFS     StoreBackend = "fs"
	StoreSQLite StoreBackend = "sqlite"
	StoreNATS   StoreBackend = "nats"
)

// StoreConfig configures the fingerprint store.
type StoreConfig struct {
	Backend    StoreBackend `yaml:"backend"`
	SQLitePath string       `yaml:"sqlite_path,omitempty"`
	NATSURL    string       `yaml:"nats_url,omitempty"`
	NATSBucket string       `yaml:"nats_bucket,omitempty"`
}

// EventsConfig configures the run history database.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// MetricsConfig configures metrics exposition.
type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text exposition after every run.
	Textfile string `yaml:"textfile,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFiles(filepath.Dir(configPath)); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to load .env file").Fatal().Build()
	}

	// #nosec G304 -- the configuration path is supplied by the operator.
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").Fatal().Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to resolve config path").Fatal().Build()
	}
	cfg.path = abs
	return cfg, nil
}

// Parse decodes configuration bytes, expanding environment variables first, then
// applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration rooted at the working directory.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

// BaseDir returns the directory relative paths are resolved against.
func (c *Config) BaseDir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}

// Resolve makes p absolute relative to the configuration directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir(), p)
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Default()
	example.Generator.Command = "docstage-generate"

	data, err := yaml.Marshal(example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").Build()
	}
	return nil
}
