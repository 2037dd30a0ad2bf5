package spanlock

import (
	"context"
	"time"
)

// NeedsChecker decides whether the critical section still has to run.
// Typical shapes: "is the work already done" for always-needed mutexes, or
// "are there pending jobs" when need depends on external state. An error
// is fatal to the whole Start call; a broken predicate cannot be retried
// into correctness.
type NeedsChecker interface {
	MutexNeeded(ctx context.Context) (bool, error)
}

// Executor runs the protected work. The deadline is the claim's commit
// time plus the configured TTL; past it other clients will treat the claim
// as expired work-in-progress, so the executor is expected to stop
// cooperatively. The mutex does not preempt it. An error is treated as
// transient: the claim is released and a later pass (by this client or
// another) may pick the work up again.
type Executor interface {
	ExecuteCriticalSection(ctx context.Context, deadline time.Time) error
}

// Worker is the capability set a caller supplies to New.
type Worker interface {
	NeedsChecker
	Executor
}

// WorkerFuncs adapts plain functions to the Worker interface. A nil Needed
// means the mutex is always needed.
type WorkerFuncs struct {
	Needed  func(ctx context.Context) (bool, error)
	Execute func(ctx context.Context, deadline time.Time) error
}

// MutexNeeded implements NeedsChecker.
func (w WorkerFuncs) MutexNeeded(ctx context.Context) (bool, error) {
	if w.Needed == nil {
		return true, nil
	}
	return w.Needed(ctx)
}

// ExecuteCriticalSection implements Executor.
func (w WorkerFuncs) ExecuteCriticalSection(ctx context.Context, deadline time.Time) error {
	return w.Execute(ctx, deadline)
}
