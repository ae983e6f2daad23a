package generate

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
)

// ExitTempFail is the sysexits EX_TEMPFAIL code; a generator command exits
// with it to signal rate limiting.
const ExitTempFail = 75

const maxStderrBytes = 2048

// ExecGenerator runs a command per request. The JSON request is written to
// stdin and the artifact text is read from stdout.
type ExecGenerator struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Generate runs the command once.
func (g *ExecGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.WrapError(err, errors.CategoryInternal, "encode generation request").
			WithContext("stage", req.Stage).Build()
	}

	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the command comes from the project configuration.
	cmd := exec.CommandContext(callCtx, g.Command, g.Args...)
	cmd.Dir = g.Dir
	cmd.WaitDelay = 2 * time.Second
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		"DOCSTAGE_STAGE="+req.Stage,
		"DOCSTAGE_ACTION="+req.Action.String(),
		fmt.Sprintf("DOCSTAGE_DRY=%t", req.Dry),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	slog.Debug("Generator command finished",
		logfields.Stage(req.Stage),
		logfields.Action(req.Action.String()),
		logfields.Duration(time.Since(start)))

	if runErr != nil {
		// a canceled run is not a generator failure
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Response{}, Fail(FailureTimeout, req.Stage, fmt.Sprintf("generator timed out after %s", g.Timeout)).
				WithCause(runErr).Build()
		}
		detail := tail(stderr.String())
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == ExitTempFail {
				return Response{}, Fail(FailureRateLimited, req.Stage, "generator is rate limited: "+detail).
					WithCause(runErr).Build()
			}
			return Response{}, Fail(FailurePermanent, req.Stage,
				fmt.Sprintf("generator exited with status %d: %s", exitErr.ExitCode(), detail)).
				WithCause(runErr).Build()
		}
		return Response{}, Fail(FailurePermanent, req.Stage, "generator could not be started").
			WithCause(runErr).WithContext("command", g.Command).Build()
	}

	out := stdout.Bytes()
	if err := ValidateOutput(req.Stage, out); err != nil {
		return Response{}, err
	}
	return Response{Text: string(out)}, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrBytes {
		s = "..." + s[len(s)-maxStderrBytes:]
	}
	if s == "" {
		return "no diagnostics"
	}
	return s
}
