package spanlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/spanlock/internal/clock"
	"pkt.systems/spanlock/store"
)

// releaseAttempts bounds how often a completed run retries committing its
// DONE marker over transient store errors.
const releaseAttempts = 3

// errClaimLost aborts a claim or release transaction whose in-transaction
// re-read shows the row is no longer ours to write.
var errClaimLost = errors.New("spanlock: claim superseded by another client")

// Mutex coordinates at-most-once-in-practice execution of a critical
// section across independent clients that share nothing but a row store.
//
// The guarantee is best-effort, not absolute: claim verification happens
// after a client's own commit, so two clients whose commit order and
// post-commit scheduling interleave adversarially can both believe they
// own the row. The verify-after-commit read narrows that window; it cannot
// close it. Callers needing zero duplicate executions need a consensus
// protocol, not this type.
type Mutex struct {
	cfg     Config
	self    ClientIdentity
	store   store.Store
	worker  Worker
	logger  pslog.Logger
	clock   clock.Clock
	metrics *mutexMetrics
}

// Option customises a Mutex.
type Option func(*Mutex)

// WithLogger supplies a structured logger; the default discards output.
func WithLogger(logger pslog.Logger) Option {
	return func(m *Mutex) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClientIdentity pins the client identity instead of generating one.
// The identity must be unique per concurrent attempt.
func WithClientIdentity(id ClientIdentity) Option {
	return func(m *Mutex) {
		m.self = id
	}
}

// withClock injects a deterministic clock; used by tests.
func withClock(clk clock.Clock) Option {
	return func(m *Mutex) {
		m.clock = clk
	}
}

// New builds a Mutex over st for the critical section described by cfg.
// The worker supplies the needs-check predicate and the protected work.
func New(cfg Config, st store.Store, worker Worker, opts ...Option) (*Mutex, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("spanlock: config: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("spanlock: store is required")
	}
	if worker == nil {
		return nil, fmt.Errorf("spanlock: worker is required")
	}
	m := &Mutex{
		cfg:    cfg,
		self:   NewClientIdentity(),
		store:  st,
		worker: worker,
		logger: pslog.NoopLogger(),
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.self.Validate(); err != nil {
		return nil, fmt.Errorf("spanlock: client identity: %w", err)
	}
	m.metrics = newMutexMetrics(m.logger)
	return m, nil
}

// ClientIdentity returns the identity this mutex writes rows under.
func (m *Mutex) ClientIdentity() ClientIdentity {
	return m.self
}

// Status reads the current row status. StatusUnspecified means no client
// has ever claimed the mutex (or the row expired externally).
func (m *Mutex) Status(ctx context.Context) (store.Status, error) {
	rec, err := m.store.ReadRecord(ctx, m.cfg.MutexUUID)
	if errors.Is(err, store.ErrNotFound) {
		return store.StatusUnspecified, nil
	}
	if err != nil {
		return store.StatusUnspecified, err
	}
	return rec.Status, nil
}

// Start drives the acquisition loop until the work is done, not needed,
// out of budget, or fatally failed.
//
// Each pass runs the needs-check predicate, reads the row, and either
// claims it (absent, finished, failed, or stale STARTED rows are
// claimable), or waits out a backoff interval when a fresh claim belongs
// to someone else. A successful claim executes the worker under a deadline
// of claim commit time + TTL and then records DONE.
//
// The returned Outcome is meaningful even when err is non-nil: a run can
// execute the work and still fail to record completion.
func (m *Mutex) Start(ctx context.Context) (Outcome, error) {
	logger := m.logger.With(
		"mutex_uuid", m.cfg.MutexUUID,
		"client_uuid", m.self.UUID,
		"run", xid.New().String(),
	)
	start := m.clock.Now()
	backoff := newWaitBackoff(m.cfg.WaitInterval)
	retries := 0
	executed := false

	outcome := func() Outcome {
		o := Outcome{Executed: executed, Retries: retries, Elapsed: m.clock.Now().Sub(start)}
		m.metrics.recordRun(ctx, o.Executed, o.Elapsed)
		return o
	}

	logger.Debug("mutex.start", "display_name", m.cfg.DisplayName, "ttl", m.cfg.TTL, "staleness_window", m.cfg.StalenessWindow)

	for {
		if err := ctx.Err(); err != nil {
			return outcome(), err
		}
		if elapsed := m.clock.Now().Sub(start); retries > m.cfg.MaxRetries || elapsed > m.cfg.WaitBudget {
			m.metrics.recordAbandon(ctx)
			logger.Warn("mutex.abandoned", "retries", retries, "elapsed", elapsed)
			return outcome(), Failure{
				Code:   FailureBudgetExhausted,
				Detail: fmt.Sprintf("gave up after %d retries and %s", retries, elapsed),
			}
		}

		needed, err := m.worker.MutexNeeded(ctx)
		if err != nil {
			logger.Error("mutex.needs_check.failed", "error", err)
			return outcome(), Failure{Code: FailureNeedsCheck, Err: err}
		}
		if !needed {
			logger.Info("mutex.not_needed", "executed", executed, "retries", retries)
			return outcome(), nil
		}

		rec, err := m.store.ReadRecord(ctx, m.cfg.MutexUUID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			if !store.IsTransient(err) {
				return outcome(), Failure{Code: FailureStore, Detail: "read mutex record", Err: err}
			}
			logger.Warn("mutex.read.transient", "error", err)
			if err := m.wait(ctx, backoff); err != nil {
				return outcome(), err
			}
			retries++
			continue
		}

		if m.shouldClaim(rec, m.clock.Now()) {
			res, err := m.claim(ctx, rec)
			if err != nil {
				if !store.IsTransient(err) {
					return outcome(), Failure{Code: FailureStore, Detail: "claim mutex", Err: err}
				}
				logger.Warn("mutex.claim.transient", "error", err)
				if err := m.wait(ctx, backoff); err != nil {
					return outcome(), err
				}
				retries++
				continue
			}
			if res.claimed {
				deadline := res.rec.UpdateTime.Add(m.cfg.TTL)
				logger.Info("mutex.acquired", "stolen", res.stolen, "deadline", deadline)
				execErr := m.worker.ExecuteCriticalSection(ctx, deadline)
				if execErr == nil {
					executed = true
					m.metrics.recordExecution(ctx, true)
					if err := m.finish(ctx, logger); err != nil {
						return outcome(), err
					}
					logger.Info("mutex.done", "retries", retries, "elapsed", m.clock.Now().Sub(start))
					return outcome(), nil
				}
				m.metrics.recordExecution(ctx, false)
				logger.Error("mutex.execute.failed", "error", execErr)
				m.releaseFailed(ctx, logger)
				// Another pass, here or elsewhere, may pick the work up.
			} else {
				logger.Debug("mutex.claim.lost")
			}
		} else if rec != nil {
			logger.Debug("mutex.waiting", "owner", rec.ClientUUID, "status", rec.Status, "age", rec.Age(m.clock.Now()))
		}

		if err := m.wait(ctx, backoff); err != nil {
			return outcome(), err
		}
		retries++
	}
}

// shouldClaim reports whether rec is claimable: absent, owned by this
// client already, anything but STARTED (finished and failed rows are
// reclaimed once the predicate says work is needed again), or STARTED past
// the staleness watermark.
func (m *Mutex) shouldClaim(rec *store.Record, now time.Time) bool {
	if rec == nil {
		return true
	}
	if rec.ClientUUID == m.self.UUID {
		return true
	}
	if rec.Status != store.StatusStarted {
		return true
	}
	return m.isStale(rec, now)
}

// isStale compares the store-assigned commit timestamp against the local
// clock. The two clock domains differ; StalenessWindow is expected to
// absorb the skew.
func (m *Mutex) isStale(rec *store.Record, now time.Time) bool {
	return rec.Age(now) > m.cfg.StalenessWindow
}

// sameRevision reports whether two row observations are the same commit.
// The commit timestamp is the revision marker; owner and status are
// compared as well in case a backend's clock granularity collapses two
// commits onto one timestamp.
func sameRevision(a, b *store.Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UpdateTime.Equal(b.UpdateTime) && a.ClientUUID == b.ClientUUID && a.Status == b.Status
}

type claimResult struct {
	claimed bool
	stolen  bool
	rec     *store.Record
}

// claim attempts the conditional upsert and verifies it with a fresh read.
// The transaction re-reads the row and writes only if it is unchanged from
// the snapshot the claim decision was based on; any interleaved commit,
// including a peer finishing the work, aborts the claim and sends the loop
// back through the predicate. The post-commit read then confirms the
// commit-order winner is really us. Both checks can fail cleanly, in which
// case claimed is false and the caller goes back to waiting.
func (m *Mutex) claim(ctx context.Context, prior *store.Record) (claimResult, error) {
	stolen := prior != nil && prior.Status == store.StatusStarted && prior.ClientUUID != m.self.UUID
	_, err := m.store.Update(ctx, m.cfg.MutexUUID, func(ctx context.Context, txn store.Txn) error {
		cur, err := txn.Current(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if errors.Is(err, store.ErrNotFound) {
			cur = nil
		}
		if !sameRevision(prior, cur) {
			return errClaimLost
		}
		return txn.Upsert(m.record(store.StatusStarted))
	})
	if errors.Is(err, errClaimLost) {
		return claimResult{}, nil
	}
	if err != nil {
		return claimResult{}, err
	}

	// The commit succeeded from our point of view; only the fresh read
	// decides ownership. See the type doc for the residual race.
	rec, err := m.store.ReadRecord(ctx, m.cfg.MutexUUID)
	if errors.Is(err, store.ErrNotFound) {
		return claimResult{}, nil
	}
	if err != nil {
		return claimResult{}, err
	}
	if rec.ClientUUID != m.self.UUID || rec.Status != store.StatusStarted {
		return claimResult{}, nil
	}
	m.metrics.recordClaim(ctx, stolen)
	return claimResult{claimed: true, stolen: stolen, rec: rec}, nil
}

// finish commits the DONE marker, retrying transient store errors a few
// times. Losing ownership here means a peer judged our claim stale while
// the work was still running; the work did execute, so the loss is logged
// and swallowed rather than failing the run.
func (m *Mutex) finish(ctx context.Context, logger pslog.Logger) error {
	backoff := newWaitBackoff(m.cfg.WaitInterval)
	var lastErr error
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		err := m.release(ctx, store.StatusDone)
		if err == nil {
			return nil
		}
		if errors.Is(err, errClaimLost) {
			logger.Warn("mutex.done.ownership_lost")
			return nil
		}
		if !store.IsTransient(err) {
			return Failure{Code: FailureRelease, Detail: "record completion", Err: err}
		}
		lastErr = err
		logger.Warn("mutex.done.transient", "attempt", attempt+1, "error", err)
		if err := m.wait(ctx, backoff); err != nil {
			return err
		}
	}
	return Failure{Code: FailureRelease, Detail: "record completion", Err: lastErr}
}

// releaseFailed downgrades the row to FAILED after an execution error so
// other clients can reclaim it immediately instead of waiting out the
// staleness window. Best effort: a failure here only costs time.
func (m *Mutex) releaseFailed(ctx context.Context, logger pslog.Logger) {
	err := m.release(ctx, store.StatusFailed)
	switch {
	case err == nil:
	case errors.Is(err, errClaimLost):
		logger.Debug("mutex.failed.ownership_lost")
	default:
		logger.Warn("mutex.failed.release_error", "error", err)
	}
}

// release writes status under the same guard as a claim: the row must
// still be STARTED under our identity when the transaction re-reads it.
func (m *Mutex) release(ctx context.Context, status store.Status) error {
	_, err := m.store.Update(ctx, m.cfg.MutexUUID, func(ctx context.Context, txn store.Txn) error {
		cur, err := txn.Current(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return errClaimLost
		}
		if err != nil {
			return err
		}
		if cur.ClientUUID != m.self.UUID || cur.Status != store.StatusStarted {
			return errClaimLost
		}
		return txn.Upsert(m.record(status))
	})
	return err
}

func (m *Mutex) record(status store.Status) store.Record {
	return store.Record{
		MutexUUID:         m.cfg.MutexUUID,
		DisplayName:       m.cfg.DisplayName,
		Status:            status,
		ClientUUID:        m.self.UUID,
		ClientDisplayName: m.self.DisplayName,
	}
}

// wait sleeps one backoff interval, honouring context cancellation.
func (m *Mutex) wait(ctx context.Context, backoff *waitBackoff) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(backoff.Next()):
		return nil
	}
}
