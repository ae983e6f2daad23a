package config

import (
	stderrors "errors"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// ValidateConfig validates the complete configuration. All problems are collected
// and reported together.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	v.validateBuild()
	v.validateGenerator()
	v.validateStore()
	return v.result()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config   *Config
	problems []error
}

func (cv *configurationValidator) addf(format string, args ...any) {
	cv.problems = append(cv.problems, errors.ConfigError(fmt.Sprintf(format, args...)).Build())
}

func (cv *configurationValidator) result() error {
	return stderrors.Join(cv.problems...)
}

func (cv *configurationValidator) validateBuild() {
	b := cv.config.Build
	if b.Workers < 1 {
		cv.addf("build.workers must be at least 1, got %d", b.Workers)
	}
	if NormalizeRetryBackoff(string(b.Retry.Mode)) == "" {
		cv.addf("build.retry.mode must be one of fixed, linear, exponential, got %q", b.Retry.Mode)
	}
	if b.Retry.MaxRetries != nil && *b.Retry.MaxRetries < 0 {
		cv.addf("build.retry.max_retries cannot be negative")
	}
}

func (cv *configurationValidator) validateGenerator() {
	g := cv.config.Generator
	hasCommand := strings.TrimSpace(g.Command) != ""
	hasEndpoint := strings.TrimSpace(g.Endpoint) != ""
	if hasCommand && hasEndpoint {
		cv.addf("generator: command and endpoint are mutually exclusive")
	}
	if hasEndpoint && !strings.HasPrefix(g.Endpoint, "http://") && !strings.HasPrefix(g.Endpoint, "https://") {
		cv.addf("generator.endpoint must be an http(s) URL, got %q", g.Endpoint)
	}
}

func (cv *configurationValidator) validateStore() {
	s := cv.config.Store
	switch s.Backend {
	case StoreFS, StoreSQLite:
	case StoreNATS:
		if s.NATSURL == "" {
			cv.addf("store.nats_url is required for the nats backend")
		}
	default:
		cv.addf("store.backend must be one of fs, sqlite, nats, got %q", s.Backend)
	}
}

// HasGenerator reports whether a generation collaborator is configured.
func (c *Config) HasGenerator() bool {
	return strings.TrimSpace(c.Generator.Command) != "" || strings.TrimSpace(c.Generator.Endpoint) != ""
}
