package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitStructural = 1 // validation, configuration or any error before execution
	ExitStages     = 2 // stage failures, blocked stages, strict verification findings
)

// stageCategories are the categories reported after a build or verification
// actually ran. Everything else stops the command before any stage executes.
var stageCategories = map[ErrorCategory]bool{
	CategoryGeneration: true,
	CategoryVerify:     true,
	CategoryBuild:      true,
}

// CLIErrorAdapter turns command errors into terminal output and exit codes.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor determines the exit code for err. Unclassified errors are
// treated as structural.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if classified, ok := AsClassified(err); ok && stageCategories[classified.Category()] {
		return ExitStages
	}
	return ExitStructural
}

// FormatError renders err for the terminal. Joined errors are rendered one
// per line; a classified error whose cause joins further classified errors
// lists them indented below it.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		lines := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			lines = append(lines, a.FormatError(e))
		}
		return strings.Join(lines, "\n")
	}

	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return classified.Error()
	}
	if classified.Category() == CategoryInternal || classified.Category() == CategoryRuntime {
		return "Internal error occurred (use -v for details)"
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(headline(classified))
	for _, inner := range All(classified.Cause()) {
		sb.WriteString("\n  - ")
		sb.WriteString(headline(inner))
	}
	if hint := hintFor(classified); hint != "" {
		sb.WriteString("\n  hint: ")
		sb.WriteString(hint)
	}
	return sb.String()
}

func headline(e *ClassifiedError) string {
	if e.Code() != "" {
		return string(e.Code()) + ": " + e.Message()
	}
	return e.Message()
}

// hintFor suggests the next step for errors that need user action.
func hintFor(e *ClassifiedError) string {
	switch {
	case HasCode(e, CodeHandEditedArtifact) || HasCode(e.Cause(), CodeHandEditedArtifact):
		return "keep the edit by moving it into the stage instructions, or rerun with --force to overwrite it"
	case e.Code() == CodeCycleDetected:
		return "remove one of the listed dependencies to break the cycle"
	case e.Category() == CategoryConfig:
		return "check the configuration file (docstage init writes an example)"
	case hasStrategy(e, RetryRateLimit):
		return "the generation service kept rate limiting; lower build.workers or raise build.retry.max_retries"
	}
	return ""
}

// hasStrategy reports whether e or a stage failure listed in its cause
// carries the retry strategy.
func hasStrategy(e *ClassifiedError, strategy RetryStrategy) bool {
	if e.RetryStrategy() == strategy {
		return true
	}
	for _, inner := range All(e.Cause()) {
		if inner.RetryStrategy() == strategy {
			return true
		}
	}
	return false
}

// Report logs err when useful, writes the formatted message to w and returns
// the exit code.
func (a *CLIErrorAdapter) Report(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}
	if a.shouldLog(err) {
		a.logError(err)
	}
	_, _ = fmt.Fprintln(w, a.FormatError(err))
	return a.ExitCodeFor(err)
}

// HandleError reports err on stderr and exits with its code. It returns
// without exiting when err is nil.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	os.Exit(a.Report(os.Stderr, err))
}

// shouldLog keeps the log quiet unless verbose; only fatal internal errors
// are always logged since their message is hidden from the terminal.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	if classified, ok := AsClassified(err); ok {
		return classified.Severity() == SeverityFatal && classified.Category() == CategoryInternal
	}
	return false
}

func (a *CLIErrorAdapter) logError(err error) {
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}
	attrs := []slog.Attr{slog.String("category", string(classified.Category()))}
	if classified.Code() != "" {
		attrs = append(attrs, slog.String("code", string(classified.Code())))
	}
	for _, key := range []string{"stage", "path", "attempts"} {
		if v, ok := classified.Context().Get(key); ok {
			attrs = append(attrs, slog.Any(key, v))
		}
	}
	if classified.CanRetry() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	a.logger.LogAttrs(context.Background(), levelFor(classified.Severity()), classified.Message(), attrs...)
}

func levelFor(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
