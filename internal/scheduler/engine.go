// Package scheduler decides which instances to stop, which to start for
// business hours, and how far a requested extension may run.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/policy"
	"github.com/yairfalse/cheapskate/internal/store"
)

// DefaultCostThreshold caps the projected spend of a user extension.
const DefaultCostThreshold = 20.0

// DefaultSystemUser is recorded as requester for business-hours starts.
const DefaultSystemUser = "Cheapskate"

// Config holds the scheduling rules.
type Config struct {
	CostThreshold float64
	// BusinessStart and BusinessEnd are offsets from local midnight.
	BusinessStart time.Duration
	BusinessEnd   time.Duration
	BusinessDays  []time.Weekday
	Location      *time.Location
	SystemUser    string
	TagKey        string
}

// DefaultConfig returns 06:30 to 18:30, Monday to Friday, threshold 20.
func DefaultConfig() Config {
	return Config{
		CostThreshold: DefaultCostThreshold,
		BusinessStart: 6*time.Hour + 30*time.Minute,
		BusinessEnd:   18*time.Hour + 30*time.Minute,
		BusinessDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		Location:   time.Local,
		SystemUser: DefaultSystemUser,
		TagKey:     instance.DefaultTagKey,
	}
}

// Inventory is the snapshot source. Writes call Invalidate.
type Inventory interface {
	Snapshots(ctx context.Context) ([]*instance.Snapshot, error)
	Lookup(ctx context.Context, id string) (*instance.Snapshot, error)
	Invalidate()
}

// Journal receives one entry per provider write.
type Journal interface {
	Append(entry store.Entry) error
}

// Recorder counts engine actions.
type Recorder interface {
	RecordAction(ctx context.Context, action, status string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithJournal records writes in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithRecorder reports actions to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine applies schedule policies through the provider gateway.
type Engine struct {
	cfg      Config
	gw       gateway.Gateway
	inv      Inventory
	clock    func() time.Time
	journal  Journal
	recorder Recorder
}

// New creates an engine. Zero-valued config fields take their defaults.
func New(cfg Config, gw gateway.Gateway, inv Inventory, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.CostThreshold <= 0 {
		cfg.CostThreshold = def.CostThreshold
	}
	if cfg.BusinessStart == 0 && cfg.BusinessEnd == 0 {
		cfg.BusinessStart, cfg.BusinessEnd = def.BusinessStart, def.BusinessEnd
	}
	if cfg.BusinessDays == nil {
		cfg.BusinessDays = def.BusinessDays
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.SystemUser == "" {
		cfg.SystemUser = def.SystemUser
	}
	if cfg.TagKey == "" {
		cfg.TagKey = def.TagKey
	}

	e := &Engine{
		cfg:   cfg,
		gw:    gw,
		inv:   inv,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) now() time.Time {
	return e.clock().In(e.cfg.Location)
}

// ListDueForShutdown returns the ids of running instances outside the
// DefaultOn group whose deadline falls before now plus lookahead. Instances
// without a parseable deadline are not yet scheduled and are left out.
func (e *Engine) ListDueForShutdown(ctx context.Context, lookahead time.Duration) ([]string, error) {
	snaps, err := e.inv.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	horizon := e.now().Add(lookahead)
	var due []string
	for _, s := range snaps {
		if s.Policy.Group == policy.GroupDefaultOn || !s.Running() {
			continue
		}
		off, err := s.Policy.Deadline(e.cfg.Location)
		if err != nil {
			if !errors.Is(err, policy.ErrNoDeadline) {
				logger(ctx).Warn().Err(err).Str("instance", s.ID).Msg("ignoring unparseable deadline")
			}
			continue
		}
		if off.Before(horizon) {
			due = append(due, s.ID)
		}
	}
	return due, nil
}

// Shutdown stops the instance if its deadline has passed.
func (e *Engine) Shutdown(ctx context.Context, id string) (ShutdownResult, error) {
	s, err := e.inv.Lookup(ctx, id)
	if err != nil {
		return ShutdownResult{Outcome: OutcomeUnknown}, err
	}
	return e.shutdown(ctx, s)
}

func (e *Engine) shutdown(ctx context.Context, s *instance.Snapshot) (ShutdownResult, error) {
	l := logger(ctx).With().Str("instance", s.ID).Logger()

	switch s.Policy.Group {
	case policy.GroupDefaultOn:
		return ShutdownResult{Outcome: OutcomeNotEligible}, nil
	case policy.GroupDefaultOff, policy.GroupBusinessHours:
	default:
		l.Warn().Stringer("group", s.Policy.Group).Msg("unknown schedule group")
		return ShutdownResult{Outcome: OutcomeUnknown}, nil
	}

	off, err := s.Policy.Deadline(e.cfg.Location)
	if err != nil {
		l.Warn().Err(err).Msg("no usable deadline, leaving instance running")
		return ShutdownResult{Outcome: OutcomeDeferred, OffAt: s.Policy.OffAt}, nil
	}
	if !off.Before(e.now()) {
		l.Debug().Str("off", s.Policy.OffAt).Msg("deadline not reached")
		return ShutdownResult{Outcome: OutcomeDeferred, OffAt: s.Policy.OffAt}, nil
	}

	defer e.inv.Invalidate()

	if err := e.gw.StopInstance(ctx, s.ID); err != nil {
		e.record(ctx, store.EntryStop, s.ID, nil, err)
		return ShutdownResult{Outcome: OutcomeUnknown}, fmt.Errorf("stop instance %s: %w", s.ID, err)
	}
	e.record(ctx, store.EntryStop, s.ID, map[string]string{"off": s.Policy.OffAt}, nil)

	if err := e.save(ctx, s); err != nil {
		return ShutdownResult{Outcome: OutcomeStopped, OffAt: s.Policy.OffAt}, err
	}

	l.Info().Str("off", s.Policy.OffAt).Msg("stopped instance")
	return ShutdownResult{Outcome: OutcomeStopped, OffAt: s.Policy.OffAt}, nil
}

// StartBusinessHours starts every stopped BusinessHours instance with a
// deadline at the end of the business day. Outside business hours it does
// nothing. It returns the ids that were started; per-instance failures are
// joined into the error and do not stop the batch.
func (e *Engine) StartBusinessHours(ctx context.Context) ([]string, error) {
	now := e.now()
	remaining, ok := e.businessHoursLeft(now)
	if !ok {
		logger(ctx).Debug().Time("now", now).Msg("outside business hours")
		return nil, nil
	}

	snaps, err := e.inv.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var started []string
	var errs []error
	for _, s := range snaps {
		if s.Policy.Group != policy.GroupBusinessHours || !s.Stopped() {
			continue
		}
		ok, err := e.extend(ctx, s, e.cfg.SystemUser, remaining, true)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			started = append(started, s.ID)
		}
	}
	return started, errors.Join(errs...)
}

// businessHoursLeft returns the time until the end of the business day,
// or false when now is not inside [start, end) on a business day.
func (e *Engine) businessHoursLeft(now time.Time) (time.Duration, bool) {
	if !e.isBusinessDay(now.Weekday()) {
		return 0, false
	}
	start := wallClock(now, e.cfg.BusinessStart)
	end := wallClock(now, e.cfg.BusinessEnd)
	if now.Before(start) || !now.Before(end) {
		return 0, false
	}
	return end.Sub(now), true
}

// wallClock returns the instant on now's calendar day whose local clock
// reads offset past midnight. Building it from hour and minute keeps the
// window on the wall clock across DST transitions.
func wallClock(now time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int(offset % time.Hour / time.Minute)
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
}

func (e *Engine) isBusinessDay(d time.Weekday) bool {
	for _, b := range e.cfg.BusinessDays {
		if b == d {
			return true
		}
	}
	return false
}

// Extend requests that the instance run for d from now and starts it.
// It returns false when the instance already has a later deadline. User
// requests whose projected cost reaches the threshold are capped to the
// hours the threshold buys; system starts are not capped.
func (e *Engine) Extend(ctx context.Context, id, user string, d time.Duration, system bool) (bool, error) {
	s, err := e.inv.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return e.extend(ctx, s, user, d, system)
}

func (e *Engine) extend(ctx context.Context, s *instance.Snapshot, user string, d time.Duration, system bool) (bool, error) {
	l := logger(ctx).With().Str("instance", s.ID).Str("user", user).Logger()
	now := e.now()
	requested := now.Add(d)

	current, err := s.Policy.Deadline(e.cfg.Location)
	switch {
	case err == nil && requested.Before(current):
		l.Info().Str("off", s.Policy.OffAt).Time("requested", requested).Msg("extension would shorten deadline, rejected")
		return false, nil
	case err != nil && !errors.Is(err, policy.ErrNoDeadline):
		l.Warn().Err(err).Msg("replacing unparseable deadline")
	}

	deadline := requested
	if !system && s.HourlyPrice > 0 && s.HourlyPrice*d.Hours() >= e.cfg.CostThreshold {
		capped := time.Duration(e.cfg.CostThreshold / s.HourlyPrice * float64(time.Hour))
		deadline = now.Add(capped)
		l.Info().
			Float64("hourly_price", s.HourlyPrice).
			Dur("requested", d).
			Dur("capped", capped).
			Msg("extension capped by cost threshold")
	}

	s.Policy.Requester = user
	s.Policy.SetRequested(now)
	s.Policy.SetDeadline(deadline)

	defer e.inv.Invalidate()

	if err := e.gw.StartInstance(ctx, s.ID); err != nil {
		e.record(ctx, store.EntryStart, s.ID, nil, err)
		return false, fmt.Errorf("start instance %s: %w", s.ID, err)
	}
	e.record(ctx, store.EntryStart, s.ID, map[string]string{"user": user, "off": s.Policy.OffAt}, nil)

	if err := e.save(ctx, s); err != nil {
		return false, err
	}

	l.Info().Str("off", s.Policy.OffAt).Bool("system", system).Msg("extended instance")
	return true, nil
}

// SetGroup writes a new schedule group onto the instance policy.
func (e *Engine) SetGroup(ctx context.Context, id string, g policy.Group) error {
	if !g.Valid() {
		return fmt.Errorf("set group %d: %w", int(g), policy.ErrInvalidGroup)
	}
	s, err := e.inv.Lookup(ctx, id)
	if err != nil {
		return err
	}

	defer e.inv.Invalidate()

	s.Policy.Group = g
	if err := e.save(ctx, s); err != nil {
		return err
	}
	logger(ctx).Info().Str("instance", id).Stringer("group", g).Msg("group changed")
	return nil
}

// SaveAll rewrites every instance policy tag, dropping unknown keys.
func (e *Engine) SaveAll(ctx context.Context) error {
	snaps, err := e.inv.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	defer e.inv.Invalidate()

	var errs []error
	for _, s := range snaps {
		if err := e.save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// save persists the snapshot policy as its tag.
func (e *Engine) save(ctx context.Context, s *instance.Snapshot) error {
	value := s.EncodedPolicy()
	err := e.gw.CreateTag(ctx, s.ID, e.cfg.TagKey, value)
	e.record(ctx, store.EntryTag, s.ID, map[string]string{e.cfg.TagKey: value}, err)
	if err != nil {
		return fmt.Errorf("save policy %s: %w", s.ID, err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, typ store.EntryType, id string, data map[string]string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if e.recorder != nil {
		e.recorder.RecordAction(ctx, string(typ), status)
	}
	if e.journal == nil {
		return
	}

	entry := store.Entry{
		Timestamp:  e.clock(),
		Type:       typ,
		ResourceID: id,
		RunID:      RunID(ctx),
	}
	if data != nil {
		if raw, merr := json.Marshal(data); merr == nil {
			entry.Data = raw
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if jerr := e.journal.Append(entry); jerr != nil {
		logger(ctx).Warn().Err(jerr).Str("instance", id).Msg("failed to journal action")
	}
}

// logger returns the run logger carried by ctx, or the global logger.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
