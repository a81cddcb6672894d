package hook

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// LoggingHook writes one debug record per callback to the call logger.
type LoggingHook struct {
	level slog.Level
}

// NewLoggingHook creates a hook logging at level.
func NewLoggingHook(level slog.Level) *LoggingHook {
	return &LoggingHook{level: level}
}

// ID implements Hook.
func (h *LoggingHook) ID() string { return "logging" }

func (h *LoggingHook) Pre(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	ec.Logger().Log(ctx, h.level, "unit started", "component", componentID, "phase", string(phase))
	return nil
}

func (h *LoggingHook) Post(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	ec.Logger().Log(ctx, h.level, "unit completed", "component", componentID, "phase", string(phase))
	return nil
}

func (h *LoggingHook) Interrupt(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error {
	ec.Logger().Log(ctx, h.level, "unit interrupted", "component", componentID, "phase", string(phase))
	return nil
}

func (h *LoggingHook) InterruptWith(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, failure execution.ExecutionFailure) error {
	ec.Logger().Log(ctx, h.level, "unit interrupted with failure",
		"component", componentID,
		"phase", string(phase),
		"status", failure.StatusCode,
		"key", failure.Key,
	)
	return nil
}

func (h *LoggingHook) Error(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, err error) error {
	ec.Logger().Log(ctx, h.level, "unit failed", "component", componentID, "phase", string(phase), "error", err)
	return nil
}
