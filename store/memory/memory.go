// Package memory implements store.Store in process memory; intended for
// tests and local demos. Transactions against the same row are serialised
// with a per-row lock and commit timestamps are strictly monotonic even
// when the injected clock stands still.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/spanlock/internal/clock"
	"pkt.systems/spanlock/store"
)

// Store is an in-memory row store.
type Store struct {
	mu   sync.Mutex
	rows map[string]*row

	clk clock.Clock

	reads   atomic.Int64
	commits atomic.Int64
}

type row struct {
	mu  sync.Mutex // serialises transactions on this row
	rec *store.Record
}

// New returns an empty in-memory store backed by the real clock.
func New() *Store {
	return NewWithClock(clock.Real{})
}

// NewWithClock returns an empty store whose commit timestamps derive from
// clk. Tests pass a manual clock to make staleness scenarios exact.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		rows: make(map[string]*row),
		clk:  clk,
	}
}

// ReadRecord returns the current row outside any transaction.
func (s *Store) ReadRecord(ctx context.Context, mutexUUID string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewTransientError(err)
	}
	s.reads.Add(1)
	r := s.row(mutexUUID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, store.ErrNotFound
	}
	return r.rec.Clone(), nil
}

// Update runs fn under the row lock and, if fn buffered a write, commits it
// with a fresh monotonic timestamp. An error from fn aborts the transaction
// with nothing applied.
func (s *Store) Update(ctx context.Context, mutexUUID string, fn func(ctx context.Context, txn store.Txn) error) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, store.NewTransientError(err)
	}
	r := s.row(mutexUUID)
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := &memTxn{store: s, row: r}
	if err := fn(ctx, txn); err != nil {
		return time.Time{}, err
	}
	if txn.pending == nil {
		return time.Time{}, nil
	}
	ts := s.commitTime(r)
	rec := txn.pending.Clone()
	rec.UpdateTime = ts
	r.rec = rec
	s.commits.Add(1)
	return ts, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Reads reports how many non-transactional reads the store served.
func (s *Store) Reads() int64 { return s.reads.Load() }

// Commits reports how many transactions committed a write.
func (s *Store) Commits() int64 { return s.commits.Load() }

func (s *Store) row(mutexUUID string) *row {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[mutexUUID]
	if !ok {
		r = &row{}
		s.rows[mutexUUID] = r
	}
	return r
}

// commitTime is called with the row lock held.
func (s *Store) commitTime(r *row) time.Time {
	ts := s.clk.Now()
	if r.rec != nil && !ts.After(r.rec.UpdateTime) {
		ts = r.rec.UpdateTime.Add(time.Microsecond)
	}
	return ts
}

type memTxn struct {
	store   *Store
	row     *row
	pending *store.Record
}

func (t *memTxn) Current(ctx context.Context) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewTransientError(err)
	}
	if t.row.rec == nil {
		return nil, store.ErrNotFound
	}
	return t.row.rec.Clone(), nil
}

func (t *memTxn) Upsert(rec store.Record) error {
	t.pending = &rec
	return nil
}
