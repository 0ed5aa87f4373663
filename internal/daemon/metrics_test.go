package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*DaemonMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	dm, err := newDaemonMetricsWithProvider(provider)
	require.NoError(t, err)
	return dm, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Metrics{}
}

func TestDaemonMetrics_RecordPass(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordPass(context.Background(), "success", "us-east-1", 5.5)

	m := findMetric(t, reader, "cheapskate.daemon.passes")
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)

	dp := sum.DataPoints[0]
	assert.Equal(t, int64(1), dp.Value)

	attrs := dp.Attributes.ToSlice()
	assert.Contains(t, attrs, attribute.String("status", "success"))
	assert.Contains(t, attrs, attribute.String("cloud.provider", "aws"))
	assert.Contains(t, attrs, attribute.String("cloud.region", "us-east-1"))
}

func TestDaemonMetrics_PassDuration(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordPass(context.Background(), "error", "us-east-1", 5.5)

	m := findMetric(t, reader, "cheapskate.daemon.pass.duration")
	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)

	dp := hist.DataPoints[0]
	assert.Equal(t, float64(5.5), dp.Sum)
	assert.Equal(t, uint64(1), dp.Count)
	assert.Contains(t, dp.Attributes.ToSlice(), attribute.String("status", "error"))
}

func TestDaemonMetrics_RecordInstances(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordInstances(ctx, 3, "running", "us-east-1")
	dm.RecordInstances(ctx, 2, "stopped", "us-east-1")

	m := findMetric(t, reader, "cheapskate.instances.observed")
	gauge := m.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 2)

	byState := make(map[string]int64)
	for _, dp := range gauge.DataPoints {
		state, _ := dp.Attributes.Value(attribute.Key("instance.state"))
		byState[state.AsString()] = dp.Value
	}
	assert.Equal(t, int64(3), byState["running"])
	assert.Equal(t, int64(2), byState["stopped"])
}

func TestDaemonMetrics_RecordDueSoon(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordDueSoon(context.Background(), 4, "eu-west-1")

	m := findMetric(t, reader, "cheapskate.instances.due_soon")
	gauge := m.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestDaemonMetrics_RecordAction(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordAction(ctx, "stop", "success")
	dm.RecordAction(ctx, "stop", "success")
	dm.RecordAction(ctx, "start", "error")

	m := findMetric(t, reader, "cheapskate.actions")
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}
