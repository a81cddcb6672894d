package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// MetricsHook records the duration and outcome of every unit of work.
type MetricsHook struct {
	now func() time.Time
}

// NewMetricsHook creates a metrics hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{now: time.Now}
}

// ID implements Hook.
func (h *MetricsHook) ID() string { return "metrics" }

func (h *MetricsHook) Pre(_ context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	ec.SetInternalAttribute(startKey(componentID, phase), h.now())
	return nil
}

func (h *MetricsHook) Post(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	h.record(ctx, componentID, ec, phase, telemetry.OutcomeCompleted)
	return nil
}

func (h *MetricsHook) Interrupt(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	h.record(ctx, componentID, ec, phase, telemetry.OutcomeInterrupted)
	return nil
}

func (h *MetricsHook) InterruptWith(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, _ execution.ExecutionFailure) error {
	h.record(ctx, componentID, ec, phase, telemetry.OutcomeInterruptWith)
	return nil
}

func (h *MetricsHook) Error(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, _ error) error {
	h.record(ctx, componentID, ec, phase, telemetry.OutcomeError)
	return nil
}

func (h *MetricsHook) record(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, outcome string) {
	key := startKey(componentID, phase)
	var duration time.Duration
	if start, ok := ec.InternalAttribute(key).(time.Time); ok {
		duration = h.now().Sub(start)
	}
	ec.RemoveInternalAttribute(key)

	telemetry.RecordUnitMetrics(ctx, telemetry.UnitMetrics{
		ApiID:       apiID(ec),
		ComponentID: componentID,
		Phase:       string(phase),
		Outcome:     outcome,
		Duration:    duration,
	})
}

func startKey(componentID string, phase execution.Phase) string {
	return execution.InternalHookStatePrefix + "metrics." + componentID + "." + string(phase)
}

func apiID(ec *execution.Context) string {
	if v := ec.Attribute(execution.AttrApi); v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
