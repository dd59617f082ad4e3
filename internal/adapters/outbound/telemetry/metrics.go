package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/ports/outbound"
)

var _ outbound.MetricsRecorder = (*Metrics)(nil)

const meterName = "github.com/archon-research/stl/stl-borrow/internal/services/borrow_orchestrator"

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
type Metrics struct {
	stepDuration metric.Float64Histogram
	stepsTotal   metric.Int64Counter
	runsTotal    metric.Int64Counter
}

// NewMetrics creates a recorder on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates a recorder on a custom meter provider.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"borrow.step.duration_seconds",
		metric.WithDescription("Time taken by one orchestration step, including confirmation waits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create borrow.step.duration_seconds histogram: %w", err)
	}

	steps, err := meter.Int64Counter(
		"borrow.steps.total",
		metric.WithDescription("Total number of orchestration steps executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create borrow.steps.total counter: %w", err)
	}

	runs, err := meter.Int64Counter(
		"borrow.runs.total",
		metric.WithDescription("Total number of orchestration runs finished"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create borrow.runs.total counter: %w", err)
	}

	return &Metrics{
		stepDuration: duration,
		stepsTotal:   steps,
		runsTotal:    runs,
	}, nil
}

// RecordStep records the duration and outcome of a step.
func (m *Metrics) RecordStep(ctx context.Context, step entity.Step, duration time.Duration, status string) {
	attrs := metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("status", status),
	)
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
	m.stepsTotal.Add(ctx, 1, attrs)
}

// RecordRun increments the run counter with the final state.
func (m *Metrics) RecordRun(ctx context.Context, final entity.RunState, status string) {
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("final_state", final.String()),
		attribute.String("status", status),
	))
}
