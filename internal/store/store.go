// Package store provides the key/value cache with expiry that backs the
// inventory, plus an append-only journal of provider writes.
package store

import (
	"encoding/json"
	"time"
)

// EntryType classifies a journal entry.
type EntryType string

const (
	EntryStart EntryType = "start"
	EntryStop  EntryType = "stop"
	EntryTag   EntryType = "tag"
)

// Entry records one provider write.
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   uint64          `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id"`
	RunID      string          `json:"run_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Store is a TTL cache plus journal.
type Store interface {
	// Get returns the value for key. Expired keys are reported missing.
	Get(key string) ([]byte, bool, error)
	// Set stores value under key until ttl elapses. A zero ttl never expires.
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error

	// Append adds entry to the journal and assigns its sequence.
	Append(entry Entry) error
	// Entries returns up to limit journal entries, newest first. A limit
	// of zero or less returns everything.
	Entries(limit int) ([]Entry, error)

	Close() error
}

// Clock returns the current time.
type Clock func() time.Time

type envelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

func (e envelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
