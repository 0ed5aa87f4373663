// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yairfalse/cheapskate/internal/gateway"
)

// Call is one recorded write.
type Call struct {
	Op       string
	Resource string
	Key      string
	Value    string
}

// Fake keeps instances, volumes and snapshots in memory. Writes mutate the
// stored records so that a refetch observes them.
type Fake struct {
	mu sync.Mutex

	instances map[string]gateway.Record
	volumes   map[string][]gateway.Volume   // by instance id
	snapshots map[string][]gateway.Snapshot // by volume id
	tags      map[string]map[string]string  // volume and snapshot tags

	// Fail maps "op:resource" (e.g. "stop:i-1") or "op" to an error.
	Fail map[string]error

	Calls         []Call
	DescribeCount int
}

// New creates a fake holding records.
func New(records ...gateway.Record) *Fake {
	f := &Fake{
		instances: make(map[string]gateway.Record),
		volumes:   make(map[string][]gateway.Volume),
		snapshots: make(map[string][]gateway.Snapshot),
		tags:      make(map[string]map[string]string),
		Fail:      make(map[string]error),
	}
	for _, r := range records {
		f.Put(r)
	}
	return f
}

// Put adds or replaces an instance.
func (f *Fake) Put(r gateway.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = v
	}
	r.Tags = tags
	f.instances[r.ID] = r
}

// Instance returns the stored instance.
func (f *Fake) Instance(id string) gateway.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

// AttachVolume attaches v to an instance.
func (f *Fake) AttachVolume(instanceID string, v gateway.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[instanceID] = append(f.volumes[instanceID], v)
}

// AddSnapshot adds a snapshot with tags.
func (f *Fake) AddSnapshot(s gateway.Snapshot, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.VolumeID] = append(f.snapshots[s.VolumeID], s)
	f.tags[s.ID] = tags
}

// ResourceTag returns a tag written to a volume or snapshot.
func (f *Fake) ResourceTag(resourceID, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags[resourceID][key]
}

// CallsFor returns the recorded writes of one kind.
func (f *Fake) CallsFor(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) failure(op, resource string) error {
	if err, ok := f.Fail[op+":"+resource]; ok {
		return fmt.Errorf("%s %s: %w: %w", op, resource, gateway.ErrProviderCall, err)
	}
	if err, ok := f.Fail[op]; ok {
		return fmt.Errorf("%s: %w: %w", op, gateway.ErrProviderCall, err)
	}
	return nil
}

func (f *Fake) DescribeInstances(_ context.Context) ([]gateway.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DescribeCount++
	if err := f.failure("describe", ""); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(f.instances))
	for id := range f.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]gateway.Record, 0, len(ids))
	for _, id := range ids {
		r := f.instances[id]
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		r.Tags = tags
		out = append(out, r)
	}
	return out, nil
}

func (f *Fake) StartInstance(_ context.Context, id string) error {
	return f.setState("start", id, gateway.StateRunning, "running")
}

func (f *Fake) StopInstance(_ context.Context, id string) error {
	return f.setState("stop", id, gateway.StateStopped, "stopped")
}

func (f *Fake) setState(op, id string, code int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Op: op, Resource: id})
	if err := f.failure(op, id); err != nil {
		return err
	}
	r, ok := f.instances[id]
	if !ok {
		return fmt.Errorf("%s %s: %w: no such instance", op, id, gateway.ErrProviderCall)
	}
	r.StateCode = code
	r.StateName = name
	f.instances[id] = r
	return nil
}

func (f *Fake) CreateTag(_ context.Context, resourceID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Op: "tag", Resource: resourceID, Key: key, Value: value})
	if err := f.failure("tag", resourceID); err != nil {
		return err
	}
	if r, ok := f.instances[resourceID]; ok {
		r.Tags[key] = value
		return nil
	}
	if f.tags[resourceID] == nil {
		f.tags[resourceID] = make(map[string]string)
	}
	f.tags[resourceID][key] = value
	return nil
}

func (f *Fake) DescribeVolumes(_ context.Context, filters ...gateway.Filter) ([]gateway.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("volumes", ""); err != nil {
		return nil, err
	}

	var out []gateway.Volume
	for _, id := range filterValues(filters, "attachment.instance-id") {
		out = append(out, f.volumes[id]...)
	}
	return out, nil
}

func (f *Fake) DescribeSnapshots(_ context.Context, filters ...gateway.Filter) ([]gateway.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("snapshots", ""); err != nil {
		return nil, err
	}

	var out []gateway.Snapshot
	for _, vol := range filterValues(filters, "volume-id") {
		for _, s := range f.snapshots[vol] {
			if f.matchesTags(s.ID, filters) {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *Fake) matchesTags(resourceID string, filters []gateway.Filter) bool {
	for _, flt := range filters {
		key, ok := strings.CutPrefix(flt.Name, "tag:")
		if !ok {
			continue
		}
		v := f.tags[resourceID][key]
		matched := false
		for _, want := range flt.Values {
			if v == want {
				matched = true
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func filterValues(filters []gateway.Filter, name string) []string {
	for _, f := range filters {
		if f.Name == name {
			return f.Values
		}
	}
	return nil
}
