// Package generate is the boundary to the external generation service. The
// engine sends one Request per stage that needs work and receives the full
// artifact text or a typed failure.
package generate

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// Request is everything the generation service gets for one stage.
type Request struct {
	Stage        string           `json:"stage"`
	Action       stage.ActionKind `json:"action"`
	Instructions string           `json:"instructions"`
	Model        string           `json:"model,omitempty"`
	Dependencies []DepPayload     `json:"dependencies"`
	// Current is the previous artifact text (signature removed) for UPDATE and REFRESH.
	Current string `json:"current,omitempty"`
	// Dry asks for a reproduction of the output without side effects; used by verify.
	Dry     bool `json:"dry,omitempty"`
	Attempt int  `json:"attempt"`
}

// DepPayload is one resolved dependency. Content is set for full payloads,
// Diff for changed dependencies of UPDATE and REFRESH requests.
type DepPayload struct {
	Ref     string `json:"ref"`
	Path    string `json:"path"`
	Stage   string `json:"stage,omitempty"`
	Content string `json:"content,omitempty"`
	Diff    string `json:"diff,omitempty"`
	Changed bool   `json:"changed"`
}

// Response carries the generated artifact text.
type Response struct {
	Text string `json:"text"`
}

// Generator produces artifact text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// FailureKind classifies a failed generation call.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureUnavailable FailureKind = "unavailable"
	FailureInvalid     FailureKind = "invalid_output"
	FailurePermanent   FailureKind = "permanent"
)

// Transient reports whether the orchestrator may retry this kind.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureTimeout, FailureRateLimited, FailureUnavailable:
		return true
	case FailureInvalid, FailurePermanent:
		return false
	}
	return false
}

const (
	ctxFailure    = "failure"
	ctxRetryAfter = "retry_after"
)

// Fail builds the classified error for a failed call.
func Fail(kind FailureKind, stageID, message string) *errors.ErrorBuilder {
	msg := fmt.Sprintf("stage %q: %s", stageID, message)
	var b *errors.ErrorBuilder
	if kind.Transient() {
		b = errors.GenerationTransient(stageID, msg)
		if kind == FailureRateLimited {
			b = b.RateLimit()
		}
	} else {
		b = errors.GenerationPermanent(stageID, msg)
	}
	return b.WithContext(ctxFailure, string(kind))
}

// KindOf extracts the failure kind from err. Errors that did not come from a
// generator are permanent.
func KindOf(err error) FailureKind {
	if ce, ok := errors.AsClassified(err); ok {
		if k, ok := ce.Context().GetString(ctxFailure); ok {
			return FailureKind(k)
		}
		if ce.IsTransient() {
			return FailureUnavailable
		}
	}
	return FailurePermanent
}

// RetryAfter returns the wait the service asked for, if any.
func RetryAfter(err error) time.Duration {
	if ce, ok := errors.AsClassified(err); ok {
		if v, ok := ce.Context().Get(ctxRetryAfter); ok {
			if d, ok := v.(time.Duration); ok {
				return d
			}
		}
	}
	return 0
}
