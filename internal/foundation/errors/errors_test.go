package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "docstage.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "invalid configuration" {
			t.Errorf("expected message 'invalid configuration', got %s", err.Message())
		}

		file, exists := err.Context().GetString("file")
		if !exists || file != "docstage.yaml" {
			t.Errorf("expected context file=docstage.yaml, got %v", file)
		}
	})

	t.Run("Error string carries code", func(t *testing.T) {
		err := CycleDetected([]string{"a", "b", "c", "a"}).Build()
		want := "[graph:fatal] CycleDetected: dependency cycle: a -> b -> c -> a"
		if err.Error() != want {
			t.Errorf("got %q, want %q", err.Error(), want)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		err := fmt.Errorf("loading: %w", DependencyMissing("a", "docs/*.md").Build())

		if !HasCategory(err, CategoryGraph) {
			t.Error("expected graph category")
		}
		if !HasCode(err, CodeDependencyMissing) {
			t.Error("expected DependencyMissing code")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("expected internal category for plain errors")
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("deadline exceeded")
		err := WrapError(originalErr, CategoryGeneration, "generator timed out").
			WithCode(CodeGenerationTransient).
			Retryable().
			WithContext("stage", "guides/intro").
			WithContext("attempts", 3).
			Build()

		if err.Code() != CodeGenerationTransient {
			t.Errorf("expected code %s, got %s", CodeGenerationTransient, err.Code())
		}
		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !err.IsTransient() || !IsTransient(err) {
			t.Error("expected transient error")
		}
		attempts, _ := err.Context().Get("attempts")
		if attempts != 3 {
			t.Errorf("expected attempts 3, got %v", attempts)
		}
	})

	t.Run("Permanent generation failures never retry", func(t *testing.T) {
		err := GenerationPermanent("a", "invalid output").Build()
		if err.CanRetry() || err.IsTransient() {
			t.Error("permanent failure must not be retryable")
		}
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := OutputMismatch("a", "out/a.md").Build()
		derived := base.WithContext("bytes", 12)
		if _, ok := base.Context().Get("bytes"); ok {
			t.Error("WithContext mutated the original error")
		}
		if v, _ := derived.Context().Get("bytes"); v != 12 {
			t.Errorf("expected derived context, got %v", v)
		}
	})
}

func TestAllWalksJoinedErrors(t *testing.T) {
	err := fmt.Errorf("load: %w", errors.Join(
		DependencyMissing("a", "x.md").Build(),
		CycleDetected([]string{"b", "c", "b"}).Build(),
	))
	all := All(err)
	if len(all) != 2 {
		t.Fatalf("expected 2 classified errors, got %d", len(all))
	}
	if !HasCode(err, CodeCycleDetected) {
		t.Fatalf("expected HasCode to see the second branch")
	}
	if HasCode(err, CodeOutputMismatch) {
		t.Fatalf("unexpected code match")
	}
}
