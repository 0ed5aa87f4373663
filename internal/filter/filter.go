// Package filter narrows instance listings for display.
package filter

import (
	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/policy"
)

// Filter selects snapshots by group, state and tags.
type Filter struct {
	groups      map[policy.Group]bool
	states      map[string]bool
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a new Filter. Empty arguments match everything.
func New(groups []policy.Group, states []string, includeTags, excludeTags map[string]string) *Filter {
	groupMap := make(map[policy.Group]bool)
	for _, g := range groups {
		groupMap[g] = true
	}
	stateMap := make(map[string]bool)
	for _, s := range states {
		stateMap[s] = true
	}

	return &Filter{
		groups:      groupMap,
		states:      stateMap,
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// ShouldInclude returns true if the snapshot passes every filter.
func (f *Filter) ShouldInclude(s *instance.Snapshot) bool {
	if len(f.groups) > 0 && !f.groups[s.Policy.Group] {
		return false
	}
	if len(f.states) > 0 && !f.states[s.StateName] {
		return false
	}

	// Include tags - ALL must match
	for k, v := range f.includeTags {
		if s.Tags == nil || s.Tags[k] != v {
			return false
		}
	}

	// Exclude tags - ANY match excludes
	for k, v := range f.excludeTags {
		if s.Tags != nil && s.Tags[k] == v {
			return false
		}
	}

	return true
}

// Apply returns only snapshots that pass the filter.
func (f *Filter) Apply(snaps []*instance.Snapshot) []*instance.Snapshot {
	if f.IsEmpty() {
		return snaps
	}

	filtered := make([]*instance.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if f.ShouldInclude(s) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.groups) == 0 && len(f.states) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
