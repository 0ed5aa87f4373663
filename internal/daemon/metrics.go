package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	passes       metric.Int64Counter
	passDuration metric.Float64Histogram
	instances    metric.Int64Gauge
	dueSoon      metric.Int64Gauge
	actions      metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("cheapskate.daemon")

	passes, err := meter.Int64Counter(
		"cheapskate.daemon.passes",
		metric.WithDescription("Number of evaluation passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"cheapskate.daemon.pass.duration",
		metric.WithDescription("Duration of evaluation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	instances, err := meter.Int64Gauge(
		"cheapskate.instances.observed",
		metric.WithDescription("Number of instances in the inventory"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	dueSoon, err := meter.Int64Gauge(
		"cheapskate.instances.due_soon",
		metric.WithDescription("Running instances whose deadline falls inside the lookahead window"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	actions, err := meter.Int64Counter(
		"cheapskate.actions",
		metric.WithDescription("Number of provider writes issued by the scheduler"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		passes:       passes,
		passDuration: passDuration,
		instances:    instances,
		dueSoon:      dueSoon,
		actions:      actions,
	}, nil
}

// RecordPass records an evaluation pass with status
func (m *DaemonMetrics) RecordPass(ctx context.Context, status string, region string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("cloud.provider", "aws"),
		attribute.String("cloud.region", region),
	)
	m.passes.Add(ctx, 1, attrs)
	m.passDuration.Record(ctx, durationSeconds, attrs)
}

// RecordInstances records the number of instances in one state
func (m *DaemonMetrics) RecordInstances(ctx context.Context, count int64, state string, region string) {
	m.instances.Record(ctx, count,
		metric.WithAttributes(
			attribute.String("instance.state", state),
			attribute.String("cloud.region", region),
		),
	)
}

// RecordDueSoon records how many instances will be stopped within the lookahead
func (m *DaemonMetrics) RecordDueSoon(ctx context.Context, count int64, region string) {
	m.dueSoon.Record(ctx, count,
		metric.WithAttributes(attribute.String("cloud.region", region)),
	)
}

// RecordAction records one provider write. It satisfies scheduler.Recorder.
func (m *DaemonMetrics) RecordAction(ctx context.Context, action, status string) {
	m.actions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}
