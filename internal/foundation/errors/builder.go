package errors

import (
	"fmt"
	"strings"
)

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
// This makes error creation consistent and discoverable throughout the codebase.
type ErrorBuilder struct {
	category ErrorCategory
	code     Code
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError, // Default severity
		retry:    RetryNever,    // Default to no retry
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// WithCode sets the failure code.
func (b *ErrorBuilder) WithCode(code Code) *ErrorBuilder {
	b.code = code
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithCause sets the underlying cause.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.cause = cause
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Retryable sets the retry strategy to backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	return b.WithRetry(RetryBackoff)
}

// RateLimit sets the retry strategy to rate limit.
func (b *ErrorBuilder) RateLimit() *ErrorBuilder {
	return b.WithRetry(RetryRateLimit)
}

// UserAction sets the retry strategy to require user action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		code:     b.code,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for common error patterns

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError creates a validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

// CycleDetected reports a dependency cycle. cycle lists the stage IDs in order with
// the first stage repeated at the end.
func CycleDetected(cycle []string) *ErrorBuilder {
	return NewError(CategoryGraph, "dependency cycle: "+strings.Join(cycle, " -> ")).
		WithCode(CodeCycleDetected).
		Fatal().
		UserAction().
		WithContext("cycle", cycle)
}

// DependencyMissing reports a dependency reference that resolves to nothing.
func DependencyMissing(stageID, ref string) *ErrorBuilder {
	return NewError(CategoryGraph, fmt.Sprintf("stage %q: dependency %q does not match any file or stage", stageID, ref)).
		WithCode(CodeDependencyMissing).
		Fatal().
		UserAction().
		WithContext("stage", stageID).
		WithContext("path", ref)
}

// DependencyMissingWithSuggestion is DependencyMissing with a "did you mean" hint.
// The suggestion is advisory only and never resolves the dependency.
func DependencyMissingWithSuggestion(stageID, ref, suggestion string) *ErrorBuilder {
	if suggestion == "" {
		return DependencyMissing(stageID, ref)
	}
	return NewError(CategoryGraph, fmt.Sprintf("stage %q: dependency %q does not match any file or stage (did you mean %q?)", stageID, ref, suggestion)).
		WithCode(CodeDependencyMissing).
		Fatal().
		UserAction().
		WithContext("stage", stageID).
		WithContext("path", ref).
		WithContext("suggestion", suggestion)
}

// MalformedDeclaration reports a declaration that could not be turned into a stage.
func MalformedDeclaration(source, reason string) *ErrorBuilder {
	return NewError(CategoryGraph, fmt.Sprintf("%s: %s", source, reason)).
		WithCode(CodeMalformedDeclaration).
		Fatal().
		UserAction().
		WithContext("path", source)
}

// GenerationTransient creates a retryable generation failure.
func GenerationTransient(stageID, message string) *ErrorBuilder {
	return NewError(CategoryGeneration, message).
		WithCode(CodeGenerationTransient).
		Retryable().
		WithContext("stage", stageID)
}

// GenerationPermanent creates a non-retryable generation failure.
func GenerationPermanent(stageID, message string) *ErrorBuilder {
	return NewError(CategoryGeneration, message).
		WithCode(CodeGenerationPermanent).
		WithContext("stage", stageID)
}

// OutputMismatch reports a committed artifact that differs from a fresh derivation.
func OutputMismatch(stageID, path string) *ErrorBuilder {
	return NewError(CategoryVerify, fmt.Sprintf("stage %q: artifact %s differs from regenerated output", stageID, path)).
		WithCode(CodeOutputMismatch).
		WithContext("stage", stageID).
		WithContext("path", path)
}

// HandEditedArtifact reports an artifact whose embedded signature no longer matches its content.
func HandEditedArtifact(stageID, path string) *ErrorBuilder {
	return NewError(CategoryVerify, fmt.Sprintf("stage %q: artifact %s was edited by hand (signature mismatch)", stageID, path)).
		WithCode(CodeHandEditedArtifact).
		UserAction().
		WithContext("stage", stageID).
		WithContext("path", path)
}

// StoreError creates a fingerprint store error.
func StoreError(message string) *ErrorBuilder {
	return NewError(CategoryStore, message)
}

// VCSError creates a version-control collaborator error.
func VCSError(message string) *ErrorBuilder {
	return NewError(CategoryVCS, message)
}

// FileSystemError creates a filesystem error.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message)
}

// EventStoreError creates an event store error.
func EventStoreError(message string) *ErrorBuilder {
	return NewError(CategoryEventStore, message)
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
