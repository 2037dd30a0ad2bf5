// Package spanlock implements a distributed mutual-exclusion primitive on
// top of a transactional row store with externally-consistent commits,
// such as Google Cloud Spanner. Independent clients, possibly on different
// continents, race to run a caller-supplied critical section
// at-most-once-in-practice; they never talk to each other, only to the
// shared row.
//
// # Protocol
//
// One row per mutex doubles as lock and completion marker. A client's
// Start call loops through: run the caller's needs-check predicate, read
// the row, and either claim it inside a serializable transaction (absent,
// done, failed, or stale rows are claimable) or back off with jitter while
// someone else's fresh claim stands. A verified claim executes the work
// under a deadline of claim commit time + TTL and then records DONE under
// the same ownership guard.
//
//	st, err := spanlock.OpenStore(ctx, "spanner://projects/p/instances/i/databases/d?table=spanlock_mutex")
//	if err != nil { log.Fatal(err) }
//	defer st.Close()
//	m, err := spanlock.New(spanlock.Config{
//	    MutexUUID:       "7c55e3a8-9f0c-4db8-9f3e-0a4f1d9c2b11",
//	    DisplayName:     "nightly-report",
//	    TTL:             time.Minute,
//	    StalenessWindow: 10 * time.Minute,
//	}, st, spanlock.WorkerFuncs{
//	    Needed:  func(ctx context.Context) (bool, error) { return reportMissing(ctx) },
//	    Execute: func(ctx context.Context, deadline time.Time) error { return buildReport(ctx, deadline) },
//	})
//	if err != nil { log.Fatal(err) }
//	outcome, err := m.Start(ctx)
//
// # What this does not guarantee
//
// Ownership is verified by a fresh read after the claim transaction
// commits, because the store orders commits globally but says nothing
// about when each client learns its own commit fate relative to other
// clients' post-commit execution. Two clients can therefore both pass
// verification under adversarial interleavings. The window is narrow and
// shrinks further with homogeneous client latency, but it exists; treat
// the execution guarantee as probabilistic and make critical sections
// idempotent when duplicates would hurt.
//
// Staleness detection compares the store-assigned commit timestamp against
// the observing client's local clock. Configure StalenessWindow generously
// relative to TTL and realistic clock skew.
package spanlock
