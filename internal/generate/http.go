package generate

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

const maxResponseBytes = 16 * 1024 * 1024

// HTTPGenerator posts requests as JSON to a generation endpoint. The endpoint
// answers with {"text": "..."}.
type HTTPGenerator struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

// NewHTTPGenerator returns a generator with a client bounded by timeout.
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		Timeout:  timeout,
	}
}

// Generate performs one call.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.WrapError(err, errors.CategoryInternal, "encode generation request").
			WithContext("stage", req.Stage).Build()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, Fail(FailurePermanent, req.Stage, "build generation request").WithCause(err).Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "docstage/1.0")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if isTimeout(err) {
			return Response{}, Fail(FailureTimeout, req.Stage, "generation request timed out").WithCause(err).Build()
		}
		return Response{}, Fail(FailureUnavailable, req.Stage, "generation service unreachable").WithCause(err).Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, Fail(FailureUnavailable, req.Stage, "read generation response").WithCause(err).Build()
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		b := Fail(FailureRateLimited, req.Stage, "generation service is rate limited")
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			b = b.WithContext(ctxRetryAfter, d)
		}
		return Response{}, b.Build()
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Response{}, Fail(FailureTimeout, req.Stage, "generation service timed out: "+resp.Status).Build()
	case resp.StatusCode >= 500:
		return Response{}, Fail(FailureUnavailable, req.Stage, "generation service error: "+resp.Status).Build()
	case resp.StatusCode >= 400:
		detail := strings.ReplaceAll(string(body[:min(len(body), 512)]), "\n", " ")
		return Response{}, Fail(FailurePermanent, req.Stage, fmt.Sprintf("generation request rejected: %s %s", resp.Status, detail)).Build()
	}

	if len(body) > maxResponseBytes {
		return Response{}, Fail(FailureInvalid, req.Stage, "generation response too large").Build()
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, Fail(FailureInvalid, req.Stage, "generation response is not valid JSON").WithCause(err).Build()
	}
	if err := ValidateOutput(req.Stage, []byte(out.Text)); err != nil {
		return Response{}, err
	}
	return out, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return stderrors.As(err, &te) && te.Timeout()
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
