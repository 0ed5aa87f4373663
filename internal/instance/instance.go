// Package instance builds the in-memory view of one instance: what the
// provider reported, its decoded schedule policy and its hourly price.
package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/catalog"
	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/policy"
)

// DefaultTagKey is the tag that carries the encoded policy.
const DefaultTagKey = "cheapskate"

// NameTagKey is the display name tag.
const NameTagKey = "Name"

// PriceLookup resolves hourly prices.
type PriceLookup interface {
	PriceFor(instanceClass, platform string) (catalog.Entry, error)
}

// Snapshot is one instance as seen during a single inventory window.
// HourlyPrice is fixed at construction; Policy is owned and mutated by the
// scheduling engine.
type Snapshot struct {
	ID            string
	Name          string
	StateCode     int
	StateName     string
	InstanceClass string
	Platform      string
	LaunchTime    time.Time
	HourlyPrice   float64
	Product       map[string]any
	Tags          map[string]string

	Policy policy.SchedulePolicy
	// PolicyErr is set when the stored tag could not be decoded and
	// defaults were applied instead.
	PolicyErr error
}

// New builds a snapshot from a provider record. A missing catalog entry is
// fatal for the instance; an undecodable policy tag is not.
func New(rec gateway.Record, prices PriceLookup, tagKey string) (*Snapshot, error) {
	if tagKey == "" {
		tagKey = DefaultTagKey
	}

	entry, err := prices.PriceFor(rec.InstanceType, rec.Platform)
	if err != nil {
		return nil, fmt.Errorf("price instance %s: %w", rec.ID, err)
	}

	s := &Snapshot{
		ID:            rec.ID,
		Name:          strings.TrimSpace(rec.Tag(NameTagKey)),
		StateCode:     rec.StateCode,
		StateName:     rec.StateName,
		InstanceClass: rec.InstanceType,
		Platform:      rec.Platform,
		LaunchTime:    rec.LaunchTime,
		HourlyPrice:   entry.HourlyUSD,
		Product:       entry.Product,
		Tags:          rec.Tags,
	}

	p, err := policy.Decode(rec.Tag(tagKey))
	if err != nil {
		log.Warn().Err(err).Str("instance", rec.ID).Msg("invalid policy tag, using defaults")
		s.PolicyErr = err
	}
	s.Policy = p

	return s, nil
}

// Running reports whether the provider state is running.
func (s *Snapshot) Running() bool {
	return s.StateCode == gateway.StateRunning
}

// Stopped reports whether the provider state is stopped.
func (s *Snapshot) Stopped() bool {
	return s.StateCode == gateway.StateStopped
}

// EncodedPolicy returns the tag value for the current policy.
func (s *Snapshot) EncodedPolicy() string {
	return policy.Encode(s.Policy)
}

// Record flattens the policy and derived instance fields into the listing
// format: grp, user, off, req, name, id, status, type, launchtime,
// hourlycost and product.
func (s *Snapshot) Record() map[string]any {
	rec := make(map[string]any, 11)
	for k, v := range s.Policy.Fields() {
		rec[k] = v
	}
	rec["name"] = s.Name
	rec["id"] = s.ID
	rec["status"] = s.StateName
	rec["type"] = s.InstanceClass
	rec["launchtime"] = ""
	if !s.LaunchTime.IsZero() {
		rec["launchtime"] = s.LaunchTime.Format(policy.TimeLayout)
	}
	rec["hourlycost"] = fmt.Sprintf("%.3f", s.HourlyPrice)
	rec["product"] = s.Product
	return rec
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("%s (%s)", s.ID, s.Name)
}
