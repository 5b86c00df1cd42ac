package obsync

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the coordination layer.
var (
	// ErrQueued reports that a mutation was accepted while offline and
	// will settle through the background sync queue. The optimistic value
	// (if any) is already visible; callers watch the mutation status or
	// the failure channel for the outcome.
	ErrQueued = errors.New("obsync: mutation queued for background sync")

	// ErrQueueOverflow reports that the sync queue hit its bound and an
	// item was dropped to admit a newer one.
	ErrQueueOverflow = errors.New("obsync: sync queue overflow")

	// ErrClosed reports an operation against a closed client.
	ErrClosed = errors.New("obsync: client is closed")
)

// FetchError wraps a failed remote read after retries were exhausted. It is
// retryable: queries degrade to serving the stale value alongside it rather
// than dropping cached data.
type FetchError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError marks a payload the remote will never accept. It is
// terminal: neither the query coordinator nor the sync queue retries it.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Op, e.Reason)
}

// RollbackError reports that restoring a pre-mutation snapshot failed. The
// cache state for the key is unverifiable at that point, so the key is
// invalidated to force a refetch; this error is never swallowed.
type RollbackError struct {
	Key string
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback for %q failed: %v", e.Key, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// IsRetryable reports whether an operation that produced err is worth
// re-attempting. Validation and rollback failures are terminal; everything
// else is treated as a transient remote failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var re *RollbackError
	if errors.As(err, &re) {
		return false
	}
	return true
}
