// Package gateway defines the cloud provider operations cheapskate needs and
// the provider-neutral records they return.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrProviderCall wraps every failed provider call.
var ErrProviderCall = errors.New("provider call failed")

// Instance state codes as reported by EC2. Only running and stopped drive
// scheduling decisions.
const (
	StatePending      = 0
	StateRunning      = 16
	StateShuttingDown = 32
	StateTerminated   = 48
	StateStopping     = 64
	StateStopped      = 80
)

// Record is one instance as listed by the provider.
type Record struct {
	ID           string            `json:"id"`
	InstanceType string            `json:"instance_type"`
	Platform     string            `json:"platform,omitempty"`
	StateCode    int               `json:"state_code"`
	StateName    string            `json:"state_name"`
	LaunchTime   time.Time         `json:"launch_time"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Tag returns the value of tag key, or "" when absent.
func (r Record) Tag(key string) string {
	return r.Tags[key]
}

// Volume is a block volume attached to an instance.
type Volume struct {
	ID      string
	State   string
	SizeGiB int32
}

// Snapshot is a point-in-time copy of a volume.
type Snapshot struct {
	ID       string
	VolumeID string
	State    string
}

// Filter narrows a describe call, e.g. {Name: "volume-id", Values: [...]}.
type Filter struct {
	Name   string
	Values []string
}

// Gateway is the provider surface. Every call is synchronous and fails
// independently.
type Gateway interface {
	DescribeInstances(ctx context.Context) ([]Record, error)
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
	CreateTag(ctx context.Context, resourceID, key, value string) error
	DescribeVolumes(ctx context.Context, filters ...Filter) ([]Volume, error)
	DescribeSnapshots(ctx context.Context, filters ...Filter) ([]Snapshot, error)
}
