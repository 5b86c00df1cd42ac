package obsync

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), true},
		{"validation", &ValidationError{Op: "op", Reason: "bad"}, false},
		{"wrapped validation", fmt.Errorf("outer: %w", &ValidationError{Reason: "bad"}), false},
		{"rollback", &RollbackError{Key: "k", Err: errors.New("store")}, false},
		{"fetch error", &FetchError{Key: "k", Attempts: 2, Err: errors.New("net")}, true},
		{"queued sentinel", ErrQueued, true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &FetchError{Key: "user:1", Attempts: 3, Err: inner}

	if !errors.Is(err, inner) {
		t.Fatal("FetchError should unwrap to its cause")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("Expected a message")
	}
}

func TestRollbackErrorUnwrap(t *testing.T) {
	inner := errors.New("store write failed")
	err := &RollbackError{Key: "note:1", Err: inner}

	if !errors.Is(err, inner) {
		t.Fatal("RollbackError should unwrap to its cause")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	withOp := &ValidationError{Op: "note.update", Reason: "too large"}
	if withOp.Error() != "validation failed for note.update: too large" {
		t.Fatalf("Unexpected message: %q", withOp.Error())
	}

	bare := &ValidationError{Reason: "too large"}
	if bare.Error() != "validation failed: too large" {
		t.Fatalf("Unexpected message: %q", bare.Error())
	}
}
