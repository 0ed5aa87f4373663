// Package emitter publishes inventory observations as metrics.
package emitter

import (
	"context"
	"time"

	"github.com/yairfalse/cheapskate/internal/instance"
)

// Observation is the inventory as seen by one evaluation pass.
type Observation struct {
	Region    string
	Instances []*instance.Snapshot
	// Skipped holds ids that had no catalog price.
	Skipped  []string
	Duration time.Duration
	Error    error
}

// Emitter outputs observations to a backend.
type Emitter interface {
	// Emit sends the observation to the backend.
	Emit(ctx context.Context, obs Observation) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, obs Observation) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, obs); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
