// Package retry computes backoff delays for transient generation failures.
package retry

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/docstage/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // retry attempts after the first failure
}

// DefaultPolicy returns the policy used when nothing is configured
// (exponential, 2s initial, 30s cap, 3 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 2 * time.Second, Max: 30 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw fields; zero or invalid values fall back to defaults.
// A negative maxRetries keeps the default count.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if m := config.NormalizeRetryBackoff(string(mode)); m != "" {
		p.Mode = m
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the build.retry section.
func FromConfig(rc config.RetryConfig) Policy {
	n := -1
	if rc.MaxRetries != nil {
		n = *rc.MaxRetries
	}
	return NewPolicy(rc.Mode, rc.Initial, rc.Max, n)
}

// Delay returns the backoff delay for the given retry number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		// guard the shift; anything past 30 doublings is capped anyway
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
