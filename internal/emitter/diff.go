package emitter

import (
	"strconv"
	"sync"

	"github.com/yairfalse/cheapskate/internal/instance"
)

// DiffType classifies a change between two observations.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffRemoved  DiffType = "removed"
	DiffModified DiffType = "modified"
)

// Change is one field that differs.
type Change struct {
	Previous string
	Current  string
}

// Diff is the change to one instance.
type Diff struct {
	Type    DiffType
	ID      string
	Changes map[string]Change
}

// view is the subset of a snapshot the tracker compares.
type view map[string]string

func viewOf(s *instance.Snapshot) view {
	return view{
		"name":  s.Name,
		"state": s.StateName,
		"type":  s.InstanceClass,
		"group": strconv.Itoa(int(s.Policy.Group)),
		"user":  s.Policy.Requester,
		"off":   s.Policy.OffAt,
	}
}

// DiffTracker tracks instance state between passes and detects changes.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]view
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]view),
	}
}

// ComputeDiff compares current snapshots against the previous pass.
// Returns nil on the first pass (baseline establishment).
// Returns an empty slice if nothing changed.
func (d *DiffTracker) ComputeDiff(current []*instance.Snapshot) []Diff {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := index(current)
	diffs := make([]Diff, 0)
	diffs = append(diffs, d.findRemovedAndModified(currentMap)...)
	diffs = append(diffs, d.findAdded(currentMap)...)

	return diffs
}

func index(snaps []*instance.Snapshot) map[string]view {
	m := make(map[string]view, len(snaps))
	for _, s := range snaps {
		m[s.ID] = viewOf(s)
	}
	return m
}

func (d *DiffTracker) findRemovedAndModified(currentMap map[string]view) []Diff {
	var diffs []Diff
	for id, prev := range d.previous {
		curr, exists := currentMap[id]
		if !exists {
			diffs = append(diffs, Diff{Type: DiffRemoved, ID: id})
			continue
		}
		if changes := detectChanges(prev, curr); len(changes) > 0 {
			diffs = append(diffs, Diff{Type: DiffModified, ID: id, Changes: changes})
		}
	}
	return diffs
}

func (d *DiffTracker) findAdded(currentMap map[string]view) []Diff {
	var diffs []Diff
	for id := range currentMap {
		if _, exists := d.previous[id]; !exists {
			diffs = append(diffs, Diff{Type: DiffAdded, ID: id})
		}
	}
	return diffs
}

// Update stores the current snapshots as the baseline for the next pass.
func (d *DiffTracker) Update(current []*instance.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = index(current)
	d.initialized = true
}

func detectChanges(prev, curr view) map[string]Change {
	changes := make(map[string]Change)
	for field, was := range prev {
		if now := curr[field]; now != was {
			changes[field] = Change{Previous: was, Current: now}
		}
	}
	return changes
}
