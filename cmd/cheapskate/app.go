package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/catalog"
	cfgpkg "github.com/yairfalse/cheapskate/internal/config"
	"github.com/yairfalse/cheapskate/internal/gateway"
	awsgw "github.com/yairfalse/cheapskate/internal/gateway/aws"
	"github.com/yairfalse/cheapskate/internal/inventory"
	"github.com/yairfalse/cheapskate/internal/scheduler"
	"github.com/yairfalse/cheapskate/internal/store"
)

// deps are the outside-world hooks, replaced in tests.
type deps struct {
	newGateway  func(ctx context.Context, cfg *cfgpkg.Config) (gateway.Gateway, error)
	newPricing  func(ctx context.Context, cfg *cfgpkg.Config) (catalog.PricingAPI, error)
	clock       func() time.Time
	logOutput   io.Writer
	interactive func() bool
}

func defaultDeps() deps {
	return deps{
		newGateway: func(ctx context.Context, cfg *cfgpkg.Config) (gateway.Gateway, error) {
			return awsgw.New(ctx, awsgw.Config{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
		},
		newPricing: newPricingClient,
		clock:      time.Now,
		logOutput:  os.Stderr,
		interactive: func() bool {
			return isatty.IsTerminal(os.Stderr.Fd())
		},
	}
}

// newPricingClient connects to the Pricing API, which only answers in
// us-east-1 whatever region is being priced.
func newPricingClient(ctx context.Context, cfg *cfgpkg.Config) (catalog.PricingAPI, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(catalog.PricingRegion)}
	if cfg.AWS.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return pricing.NewFromConfig(awsCfg), nil
}

// app is everything a scheduling command needs.
type app struct {
	cfg       *cfgpkg.Config
	gw        gateway.Gateway
	store     store.Store
	inventory *inventory.Cache
	engine    *scheduler.Engine
	clock     func() time.Time
}

// open wires the gateway, catalog, store, inventory and engine.
func (o *rootOptions) open(ctx context.Context, opts ...scheduler.Option) (*app, error) {
	cfg := o.cfg
	clock := o.deps.clock

	schedCfg, err := scheduleConfig(cfg)
	if err != nil {
		return nil, err
	}

	prices, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	log.Debug().Str("path", cfg.Catalog.Path).Int("products", prices.Len()).Msg("catalog loaded")

	gw, err := o.deps.newGateway(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	st, err := openStore(cfg, clock)
	if err != nil {
		return nil, err
	}

	inv := inventory.New(gw, prices, inventory.Options{
		TTL:    cfg.Cache.TTL,
		TagKey: schedCfg.TagKey,
		Clock:  clock,
		Store:  st,
	})

	opts = append([]scheduler.Option{
		scheduler.WithClock(clock),
		scheduler.WithJournal(st),
	}, opts...)

	return &app{
		cfg:       cfg,
		gw:        gw,
		store:     st,
		inventory: inv,
		engine:    scheduler.New(schedCfg, gw, inv, opts...),
		clock:     clock,
	}, nil
}

// runContext tags ctx with a fresh run id so that every write issued by
// one command shares it in the journal.
func runContext(ctx context.Context) context.Context {
	return scheduler.WithRunID(ctx, uuid.NewString())
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

func openStore(cfg *cfgpkg.Config, clock func() time.Time) (store.Store, error) {
	if cfg.Cache.Path == "" {
		return store.NewMemoryStore(clock), nil
	}
	st, err := store.OpenBolt(cfg.Cache.Path, clock)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.Cache.Path, err)
	}
	return st, nil
}

// scheduleConfig maps the [schedule] section onto engine rules.
func scheduleConfig(cfg *cfgpkg.Config) (scheduler.Config, error) {
	start, err := cfgpkg.ParseTimeOfDay(cfg.Schedule.BusinessHourStart)
	if err != nil {
		return scheduler.Config{}, err
	}
	end, err := cfgpkg.ParseTimeOfDay(cfg.Schedule.BusinessHourEnd)
	if err != nil {
		return scheduler.Config{}, err
	}
	days, err := cfg.Weekdays()
	if err != nil {
		return scheduler.Config{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return scheduler.Config{}, err
	}

	return scheduler.Config{
		CostThreshold: cfg.Schedule.CostThreshold,
		BusinessStart: start,
		BusinessEnd:   end,
		BusinessDays:  days,
		Location:      loc,
		SystemUser:    cfg.Schedule.SystemUser,
		TagKey:        cfg.Schedule.TagKey,
	}, nil
}
