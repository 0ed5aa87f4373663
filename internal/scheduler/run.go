package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type runIDKey struct{}

// WithRunID tags ctx with a pass identifier and a logger carrying it.
func WithRunID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, runIDKey{}, id)
	l := log.With().Str("run_id", id).Logger()
	return l.WithContext(ctx)
}

// RunID returns the pass identifier carried by ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// PassResult summarises one evaluation pass.
type PassResult struct {
	RunID    string            `json:"run_id"`
	Started  time.Time         `json:"started"`
	Duration time.Duration     `json:"duration"`
	Booted   []string          `json:"booted"`
	Stopped  []string          `json:"stopped"`
	Deferred map[string]string `json:"deferred"`
	Errors   map[string]string `json:"errors"`
	// Err is set when the pass could not list instances at all.
	Err error `json:"-"`
}

// Failed reports whether anything in the pass went wrong.
func (r PassResult) Failed() bool {
	return r.Err != nil || len(r.Errors) > 0
}

// Run performs one full evaluation: business-hours starts, then shutdown
// of everything due now. Per-instance failures are collected in the
// result.
func (e *Engine) Run(ctx context.Context) PassResult {
	res := PassResult{
		RunID:    uuid.NewString(),
		Started:  e.clock(),
		Deferred: make(map[string]string),
		Errors:   make(map[string]string),
	}
	ctx = WithRunID(ctx, res.RunID)
	l := logger(ctx)
	l.Info().Msg("evaluation pass started")

	booted, err := e.StartBusinessHours(ctx)
	res.Booted = booted
	if err != nil {
		l.Error().Err(err).Msg("business-hours start had failures")
		res.Errors["start-business-hours"] = err.Error()
	}

	due, err := e.ListDueForShutdown(ctx, 0)
	if err != nil {
		res.Err = err
		res.Duration = e.clock().Sub(res.Started)
		l.Error().Err(err).Msg("evaluation pass failed")
		return res
	}

	for _, id := range due {
		out, err := e.Shutdown(ctx, id)
		if err != nil {
			l.Error().Err(err).Str("instance", id).Msg("shutdown failed")
			res.Errors[id] = err.Error()
			continue
		}
		switch out.Outcome {
		case OutcomeStopped:
			res.Stopped = append(res.Stopped, id)
		case OutcomeDeferred:
			res.Deferred[id] = out.OffAt
		}
	}

	res.Duration = e.clock().Sub(res.Started)
	l.Info().
		Int("booted", len(res.Booted)).
		Int("stopped", len(res.Stopped)).
		Int("errors", len(res.Errors)).
		Dur("duration", res.Duration).
		Msg("evaluation pass finished")
	return res
}
