// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the application layer to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordStep records the outcome and duration of one orchestration step.
	// status is "ok" or "error".
	RecordStep(ctx context.Context, step entity.Step, duration time.Duration, status string)

	// RecordRun records a finished run and the state it ended in.
	RecordRun(ctx context.Context, final entity.RunState, status string)
}
