package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/yairfalse/cheapskate/internal/daemon"
	"github.com/yairfalse/cheapskate/internal/emitter"
	"github.com/yairfalse/cheapskate/internal/scheduler"
	"github.com/yairfalse/cheapskate/internal/telemetry"
)

func newDaemonCmd(o *rootOptions) *cobra.Command {
	var (
		interval  time.Duration
		listen    string
		lookahead time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run evaluation passes continuously",
		Long: `Run cheapskate in daemon mode.

Every interval the daemon runs one evaluation pass, then publishes the
inventory as Prometheus metrics. Endpoints:

  /healthz   liveness
  /readyz    ready once a pass has completed without failing
  /status    last pass as JSON
  /metrics   Prometheus metrics`,
		Example: `  cheapskate daemon                      # Settings from the config file
  cheapskate daemon --interval 1m
  cheapskate daemon --listen :2112 --lookahead 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := o.cfg
			if cmd.Flags().Changed("interval") {
				cfg.Daemon.Interval = interval
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.Listen = listen
			}
			if cmd.Flags().Changed("lookahead") {
				cfg.Daemon.Lookahead = lookahead
			}
			return runDaemon(cmd.Context(), o)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Evaluation interval")
	cmd.Flags().StringVar(&listen, "listen", ":9090", "HTTP listen address for health and metrics")
	cmd.Flags().DurationVar(&lookahead, "lookahead", 0, "Window reported as due soon")
	return cmd
}

func runDaemon(ctx context.Context, o *rootOptions) error {
	cfg := o.cfg

	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, promExporter)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	metrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return fmt.Errorf("create daemon metrics: %w", err)
	}

	emit, err := emitter.NewPrometheusEmitter()
	if err != nil {
		return fmt.Errorf("create emitter: %w", err)
	}
	defer func() { _ = emit.Close() }()

	a, err := o.open(ctx, scheduler.WithRecorder(metrics))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:  cfg.Daemon.Interval,
		Lookahead: cfg.Daemon.Lookahead,
		Listen:    cfg.Daemon.Listen,
		Region:    cfg.AWS.Region,
	}, a.engine, a.inventory,
		daemon.WithEmitter(emit),
		daemon.WithMetrics(metrics),
		daemon.WithTelemetry(tp),
		daemon.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	log.Info().Int64("passes", d.PassCount()).Msg("daemon stopped")
	return nil
}
