package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{StdoutWriter: &buf, Network: "hardhat"})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "borrow.wrap")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "borrow.wrap")
	assert.Contains(t, buf.String(), "aave-borrow")
}

func TestInitMetrics_Disabled(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetricsWithProvider(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStep(ctx, entity.StepWrap, 1500*time.Millisecond, "ok")
	m.RecordStep(ctx, entity.StepDeposit, time.Second, "error")
	m.RecordRun(ctx, entity.StateApproved, "error")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		byName[metric.Name] = metric
	}

	steps, ok := byName["borrow.steps.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, steps.DataPoints, 2)

	runs, ok := byName["borrow.runs.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)
	state, ok := runs.DataPoints[0].Attributes.Value("final_state")
	require.True(t, ok)
	assert.Equal(t, "approved", state.AsString())

	hist, ok := byName["borrow.step.duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total float64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	assert.InDelta(t, 2.5, total, 1e-9)
}
