package hook

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// TracingHook opens one span per unit of work.
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook creates a hook using the global tracer provider.
func NewTracingHook() *TracingHook {
	return &TracingHook{tracer: otel.Tracer(telemetry.TracerName)}
}

// ID implements Hook.
func (h *TracingHook) ID() string { return "tracing" }

// Pre starts the span.
func (h *TracingHook) Pre(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	_, err := h.Enter(ctx, componentID, ec, phase)
	return err
}

// Enter starts the span and returns a context carrying it, so units nested
// in this one (policies in a flow chain) become its children.
func (h *TracingHook) Enter(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) (context.Context, error) {
	ctx, span := h.tracer.Start(ctx, componentID,
		trace.WithAttributes(
			attribute.String("gateway.component", componentID),
			attribute.String("gateway.phase", string(phase)),
			attribute.String("gateway.api", apiID(ec)),
			attribute.String("gateway.request_id", ec.ID()),
		),
	)
	ec.SetInternalAttribute(spanKey(componentID, phase), span)
	return ctx, nil
}

// Post ends the span successfully.
func (h *TracingHook) Post(_ context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	if span := h.take(ec, componentID, phase); span != nil {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return nil
}

// Interrupt ends the span and marks it interrupted.
func (h *TracingHook) Interrupt(_ context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	if span := h.take(ec, componentID, phase); span != nil {
		span.AddEvent("execution.interrupted")
		span.End()
	}
	return nil
}

// InterruptWith ends the span with the failure attached.
func (h *TracingHook) InterruptWith(_ context.Context, componentID string, ec *execution.Context, phase execution.Phase, failure execution.ExecutionFailure) error {
	if span := h.take(ec, componentID, phase); span != nil {
		telemetry.RecordFailure(span, failure.StatusCode, failure.Key, failure.Message)
		span.End()
	}
	return nil
}

// Error ends the span in error.
func (h *TracingHook) Error(_ context.Context, componentID string, ec *execution.Context, phase execution.Phase, err error) error {
	if span := h.take(ec, componentID, phase); span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return nil
}

func (h *TracingHook) take(ec *execution.Context, componentID string, phase execution.Phase) trace.Span {
	key := spanKey(componentID, phase)
	span, _ := ec.InternalAttribute(key).(trace.Span)
	ec.RemoveInternalAttribute(key)
	return span
}

func spanKey(componentID string, phase execution.Phase) string {
	return execution.InternalHookStatePrefix + "tracing." + componentID + "." + string(phase)
}
