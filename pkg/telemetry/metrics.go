package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	unitExecutionCounter metric.Int64Counter
	unitInterruptCounter metric.Int64Counter
	unitErrorCounter     metric.Int64Counter
	unitLatencyHistogram metric.Float64Histogram
)

// UnitMetrics captures the fields needed to record one unit-of-work execution.
type UnitMetrics struct {
	ApiID       string
	ComponentID string
	Phase       string
	Outcome     string
	Duration    time.Duration
}

// Outcome labels recorded by RecordUnitMetrics.
const (
	OutcomeCompleted     = "completed"
	OutcomeInterrupted   = "interrupted"
	OutcomeInterruptWith = "interrupted_with_failure"
	OutcomeError         = "error"
)

// RecordUnitMetrics emits counters and histograms describing a policy,
// processor or chain execution.
func RecordUnitMetrics(ctx context.Context, m UnitMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("api.id", m.ApiID),
		attribute.String("component.id", m.ComponentID),
		attribute.String("execution.phase", m.Phase),
		attribute.String("execution.outcome", m.Outcome),
	)

	unitExecutionCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		unitLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	switch m.Outcome {
	case OutcomeInterrupted, OutcomeInterruptWith:
		unitInterruptCounter.Add(ctx, 1, attrs)
	case OutcomeError:
		unitErrorCounter.Add(ctx, 1, attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(TracerName)

		unitExecutionCounter, metricsInitErr = meter.Int64Counter(
			"gateway.unit.executions_total",
			metric.WithDescription("Policy, processor and chain executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitInterruptCounter, metricsInitErr = meter.Int64Counter(
			"gateway.unit.interrupts_total",
			metric.WithDescription("Executions that interrupted the call"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitErrorCounter, metricsInitErr = meter.Int64Counter(
			"gateway.unit.errors_total",
			metric.WithDescription("Executions that ended with an unexpected error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gateway.unit.duration_ms",
			metric.WithDescription("Observed unit of work latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordFailure annotates span with a failure that interrupted the call.
func RecordFailure(span trace.Span, status int, key, message string) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Int("failure.status_code", status),
		attribute.String("failure.key", key),
	)
	span.AddEvent("execution.interrupted_with_failure")
	if status >= 500 {
		span.SetStatus(codes.Error, message)
	}
}
