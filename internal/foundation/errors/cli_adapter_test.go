package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"cycle", CycleDetected([]string{"a", "b", "a"}).Build(), ExitStructural},
		{"config", ConfigError("bad config").Build(), ExitStructural},
		{"store", StoreError("disk full").Build(), ExitStructural},
		{"generation", GenerationPermanent("a", "invalid output").Build(), ExitStages},
		{"wrapped finding", fmt.Errorf("verify: %w", OutputMismatch("a", "out/a.md").Build()), ExitStages},
		{"incomplete run", NewError(CategoryBuild, "1 of 2 stages did not complete").WithCode(CodeRunIncomplete).Build(), ExitStages},
		{"joined graph errors", stderrors.Join(DependencyMissing("a", "x.md").Build(), MalformedDeclaration("b.md", "missing output").Build()), ExitStructural},
		{"unclassified", stderrors.New("unknown"), ExitStructural},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, adapter.ExitCodeFor(tc.err))
		})
	}
}

func TestFormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, slog.Default())

	got := quiet.FormatError(DependencyMissing("guides/intro", "docs/*.md").Build())
	require.Contains(t, got, "DependencyMissing")
	require.Contains(t, got, "guides/intro")
	require.Contains(t, got, "docs/*.md")

	require.NotContains(t, quiet.FormatError(InternalError("boom").Build()), "boom")
	require.Equal(t, "Error: plain", NewCLIErrorAdapter(false, nil).FormatError(stderrors.New("plain")))

	joined := NewCLIErrorAdapter(true, slog.Default()).FormatError(stderrors.Join(
		DependencyMissing("a", "x.md").Build(),
		CycleDetected([]string{"b", "c", "b"}).Build(),
	))
	lines := strings.Split(joined, "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "b -> c -> b")
}

func TestFormatErrorListsStageFailures(t *testing.T) {
	run := NewError(CategoryBuild, "2 of 3 stages did not complete").
		WithCode(CodeRunIncomplete).
		WithCause(stderrors.Join(
			GenerationPermanent("a", `stage "a": rejected`).Build(),
			HandEditedArtifact("b", "out/b.md").Build(),
		)).
		Build()

	got := NewCLIErrorAdapter(false, slog.Default()).FormatError(run)
	lines := strings.Split(got, "\n")
	require.Equal(t, "Error: RunIncomplete: 2 of 3 stages did not complete", lines[0])
	require.Equal(t, `  - GenerationPermanentFailure: stage "a": rejected`, lines[1])
	require.Contains(t, lines[2], "HandEditedArtifact")
	require.Contains(t, lines[3], "--force")
}

func TestFormatErrorHintsAtRateLimits(t *testing.T) {
	run := NewError(CategoryBuild, "1 of 2 stages did not complete").
		WithCode(CodeRunIncomplete).
		WithCause(stderrors.Join(
			GenerationTransient("a", `stage "a": generation failed after 3 attempts`).RateLimit().Build(),
		)).
		Build()
	got := NewCLIErrorAdapter(false, slog.Default()).FormatError(run)
	require.Contains(t, got, "hint: the generation service kept rate limiting")

	timeout := NewError(CategoryBuild, "1 of 2 stages did not complete").
		WithCause(GenerationTransient("a", "timed out").Build()).
		Build()
	require.NotContains(t, NewCLIErrorAdapter(false, slog.Default()).FormatError(timeout), "hint:")
}

func TestReport(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	code := NewCLIErrorAdapter(false, logger).Report(&out, GenerationTransient("a", "timed out").Build())
	require.Equal(t, ExitStages, code)
	require.Contains(t, out.String(), "GenerationTransientFailure: timed out")
	require.Empty(t, logs.String(), "quiet unless verbose")

	out.Reset()
	code = NewCLIErrorAdapter(true, logger).Report(&out, GenerationTransient("a", "timed out").Build())
	require.Equal(t, ExitStages, code)
	require.Contains(t, logs.String(), "stage=a")
	require.Contains(t, logs.String(), "retryable=true")

	require.Equal(t, ExitOK, NewCLIErrorAdapter(false, logger).Report(&out, nil))
}
