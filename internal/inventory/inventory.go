// Package inventory holds the instance snapshots for one TTL window.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/store"
)

// DefaultTTL is how long a provider listing is reused.
const DefaultTTL = 15 * time.Minute

const listingKey = "inventory/instances"

// ErrNotFound is returned by Lookup for an id outside the current window.
var ErrNotFound = errors.New("instance not found")

// Options configures a Cache.
type Options struct {
	TTL    time.Duration
	TagKey string
	Clock  func() time.Time
	// Store persists the raw provider listing. Nil keeps it in memory only.
	Store store.Store
}

type listing struct {
	Generation time.Time        `json:"generation"`
	Records    []gateway.Record `json:"records"`
}

// Cache is the inventory cache. Snapshots are rebuilt wholesale from a
// fresh provider listing when the window expires or Invalidate is called.
type Cache struct {
	gw     gateway.Gateway
	prices instance.PriceLookup
	store  store.Store
	ttl    time.Duration
	tagKey string
	clock  func() time.Time

	mu         sync.Mutex
	generation time.Time
	snapshots  *btree.BTreeG[*instance.Snapshot]
	skipped    []string
}

// New creates an empty cache.
func New(gw gateway.Gateway, prices instance.PriceLookup, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TagKey == "" {
		opts.TagKey = instance.DefaultTagKey
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore(opts.Clock)
	}
	return &Cache{
		gw:     gw,
		prices: prices,
		store:  opts.Store,
		ttl:    opts.TTL,
		tagKey: opts.TagKey,
		clock:  opts.Clock,
	}
}

func bySnapshotID(a, b *instance.Snapshot) bool {
	return a.ID < b.ID
}

// Snapshots returns every snapshot in the current window, ordered by id.
func (c *Cache) Snapshots(ctx context.Context) ([]*instance.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	out := make([]*instance.Snapshot, 0, c.snapshots.Len())
	c.snapshots.Ascend(func(s *instance.Snapshot) bool {
		out = append(out, s)
		return true
	})
	return out, nil
}

// Lookup returns the snapshot with the given id.
func (c *Cache) Lookup(ctx context.Context, id string) (*instance.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	s, ok := c.snapshots.Get(&instance.Snapshot{ID: id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Invalidate discards the current window. The next read refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots = nil
	c.generation = time.Time{}
	if err := c.store.Delete(listingKey); err != nil {
		log.Warn().Err(err).Msg("failed to drop stored inventory")
	}
}

// Generation is when the current listing was fetched. Zero when empty.
func (c *Cache) Generation() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Skipped lists instance ids left out of the current window because they
// had no catalog price.
func (c *Cache) Skipped() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.skipped...)
}

func (c *Cache) ensure(ctx context.Context) error {
	now := c.clock()
	if c.snapshots != nil && now.Before(c.generation.Add(c.ttl)) {
		return nil
	}

	l, err := c.loadListing(ctx, now)
	if err != nil {
		return err
	}

	c.rebuild(l)
	return nil
}

func (c *Cache) loadListing(ctx context.Context, now time.Time) (listing, error) {
	raw, ok, err := c.store.Get(listingKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read stored inventory, refetching")
	}
	if ok {
		var l listing
		if err := json.Unmarshal(raw, &l); err == nil {
			log.Debug().Time("generation", l.Generation).Int("instances", len(l.Records)).Msg("using stored inventory")
			return l, nil
		}
		log.Warn().Msg("stored inventory is corrupt, refetching")
	}

	records, err := c.gw.DescribeInstances(ctx)
	if err != nil {
		return listing{}, fmt.Errorf("describe instances: %w", err)
	}

	l := listing{Generation: now, Records: records}
	if raw, err := json.Marshal(l); err == nil {
		if err := c.store.Set(listingKey, raw, c.ttl); err != nil {
			log.Warn().Err(err).Msg("failed to store inventory")
		}
	}

	log.Debug().Int("instances", len(records)).Msg("fetched inventory")
	return l, nil
}

func (c *Cache) rebuild(l listing) {
	tree := btree.NewG(32, bySnapshotID)
	var skipped []string

	for _, rec := range l.Records {
		s, err := instance.New(rec, c.prices, c.tagKey)
		if err != nil {
			log.Warn().Err(err).Str("instance", rec.ID).Msg("skipping instance")
			skipped = append(skipped, rec.ID)
			continue
		}
		tree.ReplaceOrInsert(s)
	}

	c.snapshots = tree
	c.generation = l.Generation
	c.skipped = skipped
}
