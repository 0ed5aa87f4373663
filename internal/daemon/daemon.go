// Package daemon runs evaluation passes on an interval and serves health
// and metrics endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/cheapskate/internal/emitter"
	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/scheduler"
)

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	// Lookahead is the window reported as "due soon" after each pass.
	Lookahead time.Duration
	// Listen is the HTTP address. Empty disables the server.
	Listen string
	Region string
}

// Runner performs evaluation passes.
type Runner interface {
	Run(ctx context.Context) scheduler.PassResult
	ListDueForShutdown(ctx context.Context, lookahead time.Duration) ([]string, error)
}

// Inventory is read after each pass to publish the current state.
type Inventory interface {
	Snapshots(ctx context.Context) ([]*instance.Snapshot, error)
	Skipped() []string
}

// Telemetry traces and times passes.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordPass(ctx context.Context, region string, d time.Duration, acted, failed int)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithEmitter publishes the inventory after each pass.
func WithEmitter(e emitter.Emitter) Option {
	return func(d *Daemon) { d.emitter = e }
}

// WithMetrics records pass metrics.
func WithMetrics(m *DaemonMetrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithTelemetry traces passes.
func WithTelemetry(t Telemetry) Option {
	return func(d *Daemon) { d.telemetry = t }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(d *Daemon) { d.metricsHandler = h }
}

// Daemon manages continuous evaluation
type Daemon struct {
	cfg            Config
	runner         Runner
	inventory      Inventory
	emitter        emitter.Emitter
	metrics        *DaemonMetrics
	telemetry      Telemetry
	metricsHandler http.Handler

	startTime time.Time
	passCount atomic.Int64
	lastPass  atomic.Pointer[scheduler.PassResult]
	addr      atomic.Value
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, runner Runner, inv Inventory, opts ...Option) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("daemon interval must be positive")
	}
	if runner == nil || inv == nil {
		return nil, fmt.Errorf("daemon requires a runner and an inventory")
	}

	d := &Daemon{
		cfg:       cfg,
		runner:    runner,
		inventory: inv,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start runs passes every interval and serves HTTP until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		d.loop(ctx)
		return nil
	}, func(error) {
		cancel()
	})

	if d.cfg.Listen != "" {
		ln, err := net.Listen("tcp", d.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", d.cfg.Listen, err)
		}
		d.addr.Store(ln.Addr().String())

		srv := &http.Server{
			Handler:           d.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", ln.Addr().String()).Msg("starting http server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().
		Str("region", d.cfg.Region).
		Dur("interval", d.cfg.Interval).
		Msg("cheapskate daemon starting")

	return g.Run()
}

func (d *Daemon) loop(ctx context.Context) {
	d.RunOnce(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and publishes its results.
func (d *Daemon) RunOnce(ctx context.Context) scheduler.PassResult {
	if d.telemetry != nil {
		var span trace.Span
		ctx, span = d.telemetry.StartSpan(ctx, "evaluation-pass")
		defer span.End()
	}

	res := d.runner.Run(ctx)
	d.passCount.Add(1)
	d.lastPass.Store(&res)

	status := "success"
	if res.Failed() {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordPass(ctx, status, d.cfg.Region, res.Duration.Seconds())
	}
	if d.telemetry != nil {
		d.telemetry.RecordPass(ctx, d.cfg.Region, res.Duration, len(res.Booted)+len(res.Stopped), len(res.Errors))
	}

	d.observe(ctx)
	return res
}

func (d *Daemon) observe(ctx context.Context) {
	start := time.Now()
	snaps, err := d.inventory.Snapshots(ctx)
	obs := emitter.Observation{
		Region:    d.cfg.Region,
		Instances: snaps,
		Skipped:   d.inventory.Skipped(),
		Duration:  time.Since(start),
		Error:     err,
	}

	if d.emitter != nil {
		if err := d.emitter.Emit(ctx, obs); err != nil {
			log.Error().Err(err).Msg("emit failed")
		}
	}
	if err != nil || d.metrics == nil {
		return
	}

	byState := make(map[string]int64)
	for _, s := range snaps {
		byState[s.StateName]++
	}
	for state, n := range byState {
		d.metrics.RecordInstances(ctx, n, state, d.cfg.Region)
	}

	due, err := d.runner.ListDueForShutdown(ctx, d.cfg.Lookahead)
	if err != nil {
		log.Warn().Err(err).Msg("failed to compute upcoming shutdowns")
		return
	}
	d.metrics.RecordDueSoon(ctx, int64(len(due)), d.cfg.Region)
}

// Handler returns the HTTP routes: /healthz, /readyz, /status and /metrics.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealthz)
	r.Get("/readyz", d.handleReadyz)
	r.Get("/status", d.handleStatus)
	if d.metricsHandler != nil {
		r.Handle("/metrics", d.metricsHandler)
	}
	return r
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (d *Daemon) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	last := d.lastPass.Load()
	switch {
	case last == nil:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no pass completed"))
	case last.Err != nil:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("last pass failed: " + last.Err.Error()))
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		Health   HealthStatus          `json:"health"`
		Passes   int64                 `json:"passes"`
		LastPass *scheduler.PassResult `json:"last_pass,omitempty"`
	}{
		Health:   d.Health(),
		Passes:   d.PassCount(),
		LastPass: d.lastPass.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
}

// PassCount returns total passes run
func (d *Daemon) PassCount() int64 {
	return d.passCount.Load()
}

// Addr is the address the HTTP server bound to, once started.
func (d *Daemon) Addr() string {
	addr, _ := d.addr.Load().(string)
	return addr
}
