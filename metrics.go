package spanlock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type mutexMetrics struct {
	claims     metric.Int64Counter
	steals     metric.Int64Counter
	executions metric.Int64Counter
	abandons   metric.Int64Counter
	runDur     metric.Int64Histogram
}

func newMutexMetrics(logger pslog.Logger) *mutexMetrics {
	meter := otel.Meter("pkt.systems/spanlock")
	m := &mutexMetrics{}
	var err error

	m.claims, err = meter.Int64Counter(
		"spanlock.claim",
		metric.WithDescription("Verified mutex claims"),
	)
	logMetricInitError(logger, "spanlock.claim", err)

	m.steals, err = meter.Int64Counter(
		"spanlock.claim.steal",
		metric.WithDescription("Claims that took over a stale STARTED row"),
	)
	logMetricInitError(logger, "spanlock.claim.steal", err)

	m.executions, err = meter.Int64Counter(
		"spanlock.execute",
		metric.WithDescription("Critical-section executions"),
	)
	logMetricInitError(logger, "spanlock.execute", err)

	m.abandons, err = meter.Int64Counter(
		"spanlock.abandon",
		metric.WithDescription("Runs abandoned on budget exhaustion"),
	)
	logMetricInitError(logger, "spanlock.abandon", err)

	m.runDur, err = meter.Int64Histogram(
		"spanlock.run.duration_ms",
		metric.WithDescription("Start() duration"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "spanlock.run.duration_ms", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil {
		return
	}
	logger.Warn("metric init failed", "metric", name, "error", err)
}

func (m *mutexMetrics) recordClaim(ctx context.Context, stolen bool) {
	if m.claims != nil {
		m.claims.Add(ctx, 1)
	}
	if stolen && m.steals != nil {
		m.steals.Add(ctx, 1)
	}
}

func (m *mutexMetrics) recordExecution(ctx context.Context, success bool) {
	if m.executions != nil {
		m.executions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	}
}

func (m *mutexMetrics) recordAbandon(ctx context.Context) {
	if m.abandons != nil {
		m.abandons.Add(ctx, 1)
	}
}

func (m *mutexMetrics) recordRun(ctx context.Context, executed bool, elapsed time.Duration) {
	if m.runDur != nil {
		m.runDur.Record(ctx, elapsed.Milliseconds(), metric.WithAttributes(attribute.Bool("executed", executed)))
	}
}
