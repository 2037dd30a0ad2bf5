package spanlock

import (
	"errors"
	"fmt"
)

// Failure codes returned by Start.
const (
	// FailureBudgetExhausted means the retry or wall-clock budget ran out
	// before the work was claimed and completed. This is a normal terminal
	// outcome of a contended mutex, not a protocol error.
	FailureBudgetExhausted = "budget_exhausted"
	// FailureNeedsCheck means the caller's predicate returned an error.
	FailureNeedsCheck = "needs_check_failed"
	// FailureStore means the backing store reported a non-retryable error
	// (permissions, missing table, bad configuration).
	FailureStore = "store_failed"
	// FailureRelease means the critical section ran but the DONE marker
	// could not be committed within the release retry budget.
	FailureRelease = "release_failed"
)

// Failure is the transport-neutral terminal error reported by Start.
type Failure struct {
	Code   string
	Detail string
	Err    error
}

func (f Failure) Error() string {
	switch {
	case f.Detail != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Detail, f.Err)
	case f.Detail != "":
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	}
	return f.Code
}

func (f Failure) Unwrap() error { return f.Err }

// IsAbandoned reports whether err is a budget-exhaustion outcome.
func IsAbandoned(err error) bool {
	var f Failure
	return errors.As(err, &f) && f.Code == FailureBudgetExhausted
}
