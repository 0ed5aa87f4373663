package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/cheapskate/internal/instance"
)

// PrometheusEmitter emits inventory metrics in Prometheus format via OTEL.
type PrometheusEmitter struct {
	meter metric.Meter

	// Metrics
	instanceInfo         metric.Int64ObservableGauge
	instanceHourlyCost   metric.Float64ObservableGauge
	observeDuration      metric.Float64Histogram
	catalogMissesTotal   metric.Int64Counter
	observeErrorsTotal   metric.Int64Counter
	instanceChangesTotal metric.Int64Counter

	// State for observable gauges
	mu        sync.RWMutex
	region    string
	instances []*instance.Snapshot

	// Diff tracking
	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter
// provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return newPrometheusEmitterWithMeter(otel.Meter("cheapskate"))
}

func newPrometheusEmitterWithMeter(meter metric.Meter) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       meter,
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.instanceInfo, err = e.meter.Int64ObservableGauge(
		"cheapskate_instance_info",
		metric.WithDescription("Instance state and schedule policy"),
	)
	if err != nil {
		return fmt.Errorf("create instance_info gauge: %w", err)
	}

	e.instanceHourlyCost, err = e.meter.Float64ObservableGauge(
		"cheapskate_instance_hourly_cost_usd",
		metric.WithDescription("On-demand hourly price of the instance"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return fmt.Errorf("create hourly_cost gauge: %w", err)
	}

	if _, err := e.meter.RegisterCallback(e.observeInstances, e.instanceInfo, e.instanceHourlyCost); err != nil {
		return fmt.Errorf("register instance callback: %w", err)
	}

	e.observeDuration, err = e.meter.Float64Histogram(
		"cheapskate_inventory_duration_seconds",
		metric.WithDescription("Time taken to read the inventory"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_duration histogram: %w", err)
	}

	e.catalogMissesTotal, err = e.meter.Int64Counter(
		"cheapskate_catalog_misses_total",
		metric.WithDescription("Instances skipped because the price catalog has no entry"),
	)
	if err != nil {
		return fmt.Errorf("create catalog_misses counter: %w", err)
	}

	e.observeErrorsTotal, err = e.meter.Int64Counter(
		"cheapskate_inventory_errors_total",
		metric.WithDescription("Total failed inventory reads"),
	)
	if err != nil {
		return fmt.Errorf("create inventory_errors counter: %w", err)
	}

	e.instanceChangesTotal, err = e.meter.Int64Counter(
		"cheapskate_instance_changes_total",
		metric.WithDescription("Total instance changes detected between passes"),
	)
	if err != nil {
		return fmt.Errorf("create instance_changes counter: %w", err)
	}

	return nil
}

// Emit records the observation as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, obs Observation) error {
	attrs := metric.WithAttributes(attribute.String("region", obs.Region))

	e.observeDuration.Record(ctx, obs.Duration.Seconds(), attrs)

	if obs.Error != nil {
		e.observeErrorsTotal.Add(ctx, 1, attrs)
		log.Error().
			Err(obs.Error).
			Str("region", obs.Region).
			Msg("inventory error")
		return nil // Don't fail on inventory errors
	}

	if len(obs.Skipped) > 0 {
		e.catalogMissesTotal.Add(ctx, int64(len(obs.Skipped)), attrs)
	}

	e.emitDiffs(ctx, obs)

	e.mu.Lock()
	e.region = obs.Region
	e.instances = obs.Instances
	e.mu.Unlock()

	e.diffTracker.Update(obs.Instances)

	log.Debug().
		Str("region", obs.Region).
		Int("instances", len(obs.Instances)).
		Int("skipped", len(obs.Skipped)).
		Dur("duration", obs.Duration).
		Msg("inventory observed")

	return nil
}

// emitDiffs computes diffs and emits metrics/logs for changes.
func (e *PrometheusEmitter) emitDiffs(ctx context.Context, obs Observation) {
	diffs := e.diffTracker.ComputeDiff(obs.Instances)
	if diffs == nil {
		// First pass - baseline established
		return
	}

	for _, diff := range diffs {
		e.instanceChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("region", obs.Region),
			attribute.String("change_type", string(diff.Type)),
		))

		logEvent := log.Info().
			Str("instance", diff.ID).
			Str("change", string(diff.Type))
		for field, change := range diff.Changes {
			logEvent = logEvent.
				Str(field+".from", change.Previous).
				Str(field+".to", change.Current)
		}
		logEvent.Msg("instance changed")
	}
}

// observeInstances is the callback for the per-instance gauges.
func (e *PrometheusEmitter) observeInstances(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, s := range e.instances {
		attrs := []attribute.KeyValue{
			attribute.String("id", s.ID),
			attribute.String("region", e.region),
			attribute.String("state", s.StateName),
			attribute.String("type", s.InstanceClass),
			attribute.String("group", s.Policy.Group.String()),
		}
		if s.Name != "" {
			attrs = append(attrs, attribute.String("name", s.Name))
		}
		if s.Policy.OffAt != "" {
			attrs = append(attrs, attribute.String("off", s.Policy.OffAt))
		}

		o.ObserveInt64(e.instanceInfo, 1, metric.WithAttributes(attrs...))
		o.ObserveFloat64(e.instanceHourlyCost, s.HourlyPrice, metric.WithAttributes(attrs[:4]...))
	}

	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
