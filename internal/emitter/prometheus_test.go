package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/cheapskate/internal/instance"
)

func newTestEmitter(t *testing.T) (*PrometheusEmitter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := newPrometheusEmitterWithMeter(provider.Meter("cheapskate"))
	require.NoError(t, err)
	return e, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestPrometheusEmitter_InstanceGauges(t *testing.T) {
	e, reader := newTestEmitter(t)

	s1 := makeSnapshot("i-001", "running")
	s1.HourlyPrice = 0.096
	s2 := makeSnapshot("i-002", "stopped")
	s2.HourlyPrice = 0.0104

	err := e.Emit(context.Background(), Observation{
		Region:    "us-east-1",
		Instances: []*instance.Snapshot{s1, s2},
		Skipped:   []string{"i-003"},
		Duration:  200 * time.Millisecond,
	})
	require.NoError(t, err)

	metrics := collect(t, reader)

	info, ok := metrics["cheapskate_instance_info"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, info.DataPoints, 2)

	cost, ok := metrics["cheapskate_instance_hourly_cost_usd"].(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Len(t, cost.DataPoints, 2)

	misses, ok := metrics["cheapskate_catalog_misses_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, misses.DataPoints, 1)
	assert.Equal(t, int64(1), misses.DataPoints[0].Value)
}

func TestPrometheusEmitter_ChangesCounted(t *testing.T) {
	e, reader := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Observation{Instances: []*instance.Snapshot{makeSnapshot("i-001", "running")}}))
	require.NoError(t, e.Emit(ctx, Observation{Instances: []*instance.Snapshot{makeSnapshot("i-001", "stopped")}}))

	metrics := collect(t, reader)
	changes, ok := metrics["cheapskate_instance_changes_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, changes.DataPoints, 1)
	assert.Equal(t, int64(1), changes.DataPoints[0].Value)
}

func TestPrometheusEmitter_ErrorDoesNotFail(t *testing.T) {
	e, reader := newTestEmitter(t)

	err := e.Emit(context.Background(), Observation{Region: "us-east-1", Error: errors.New("throttled")})
	require.NoError(t, err)

	metrics := collect(t, reader)
	errs, ok := metrics["cheapskate_inventory_errors_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
	assert.NoError(t, e.Close())
}
