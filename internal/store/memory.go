package store

import (
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	clock   Clock
	values  map[string]envelope
	journal []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:  clock,
		values: make(map[string]envelope),
	}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	if env.expired(m.clock()) {
		delete(m.values, key)
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (m *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = envelope{ExpiresAt: expiry(m.clock(), ttl), Value: value}
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Append(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Sequence = uint64(len(m.journal) + 1)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.clock()
	}
	m.journal = append(m.journal, entry)
	return nil
}

func (m *MemoryStore) Entries(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.journal)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.journal[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
