// Package errors provides foundational, type-safe error primitives used across docstage.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (graph, generation, verify, store, etc.)
//   - Code: The precise failure kind a user acts on (CycleDetected, DependencyMissing, ...)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, backoff, rate limit)
//   - ClassifiedError: Structured error with category, code, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLI adapter mapping errors to process exit codes
//
// Example usage:
//
//	err := errors.DependencyMissing("guides/intro", "docs/missing.md").
//		WithContext("pattern", pattern).
//		Build()
package errors
