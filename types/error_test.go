package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrDependencyUnavailable, "graph backend down").
		WithCause(root).
		WithRetryable(true).
		WithBackend("graph")

	if CodeOf(err) != ErrDependencyUnavailable {
		t.Fatalf("expected code %s, got %s", ErrDependencyUnavailable, CodeOf(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_CodeOfWrapped(t *testing.T) {
	t.Parallel()

	inner := Timeout("embedding", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("retrieve: %w", inner)

	if CodeOf(wrapped) != ErrTimeout {
		t.Fatalf("expected TIMEOUT through wrap, got %s", CodeOf(wrapped))
	}
	if !IsTimeout(wrapped) {
		t.Fatalf("expected IsTimeout true")
	}
	if CodeOf(errors.New("plain")) != ErrInternal {
		t.Fatalf("plain errors should map to INTERNAL")
	}
	if CodeOf(nil) != "" {
		t.Fatalf("nil should map to empty code")
	}
}

func TestValidationConstructor(t *testing.T) {
	t.Parallel()

	err := Validation("unknown rag mode: %s", "turbo")
	if CodeOf(err) != ErrValidation {
		t.Fatalf("expected VALIDATION, got %s", CodeOf(err))
	}
	if IsRetryable(err) {
		t.Fatalf("validation errors are not retryable")
	}
}
