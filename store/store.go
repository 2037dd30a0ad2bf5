// Package store defines the row-store contract the mutex protocol runs on.
//
// A backend exposes exactly one operation family: read a single mutex row,
// and run a serializable read-modify-write transaction against that row.
// The store assigns the row's update timestamp at commit; clients never
// write wall-clock values, so staleness comparisons have a single trusted
// time source per row.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the mutex row does not exist yet.
var ErrNotFound = errors.New("store: record not found")

// Status enumerates the lifecycle of a mutex row. The row doubles as lock
// and completion marker; keeping both in one value is what makes the
// single-row conditional write sufficient for the protocol.
type Status string

const (
	// StatusUnspecified covers an absent row or an empty status column.
	StatusUnspecified Status = ""
	// StatusStarted marks the row as claimed by the client recorded on it.
	StatusStarted Status = "started"
	// StatusDone marks the critical section as completed.
	StatusDone Status = "done"
	// StatusFailed marks a claim released after the critical section
	// errored. A failed row is immediately claimable again.
	StatusFailed Status = "failed"
)

// ParseStatus maps a persisted status column to a Status, tolerating case
// differences and unknown values.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusStarted, StatusDone, StatusFailed:
		return Status(raw)
	}
	switch raw {
	case "STARTED", "Started":
		return StatusStarted
	case "DONE", "Done":
		return StatusDone
	case "FAILED", "Failed":
		return StatusFailed
	}
	return StatusUnspecified
}

// Record is the persisted mutex row, keyed by MutexUUID.
type Record struct {
	MutexUUID         string
	DisplayName       string
	Status            Status
	UpdateTime        time.Time // store-assigned commit timestamp
	ClientUUID        string
	ClientDisplayName string
}

// Clone returns a copy detached from backend-owned memory.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Age reports how long ago the row was last committed, relative to now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdateTime)
}

// Txn is the view a transaction function gets of the single mutex row.
type Txn interface {
	// Current re-reads the row inside the transaction. Returns ErrNotFound
	// when the row does not exist. Guards against lost updates: the caller
	// must re-validate its claim condition against this value, not against
	// whatever it read before the transaction began.
	Current(ctx context.Context) (*Record, error)
	// Upsert buffers a write of the row. The backend assigns
	// Record.UpdateTime at commit; any value set by the caller is ignored.
	Upsert(rec Record) error
}

// Store is the contract the mutex protocol consumes. Implementations must
// guarantee that Update transactions against the same key are serializable
// and that every successful commit strictly advances the row's UpdateTime.
type Store interface {
	// ReadRecord returns the current row outside any transaction.
	ReadRecord(ctx context.Context, mutexUUID string) (*Record, error)
	// Update runs fn inside a serializable transaction scoped to one row
	// and returns the commit timestamp the store assigned. When fn returns
	// an error the transaction aborts with nothing applied and that error
	// is returned verbatim.
	Update(ctx context.Context, mutexUUID string, fn func(ctx context.Context, txn Txn) error) (time.Time, error)
	// Close releases backend resources.
	Close() error
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable (store unavailable, transaction
// aborted by a conflicting commit). Anything not marked transient and not
// ErrNotFound is a configuration or permission problem and must not be
// retried.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
