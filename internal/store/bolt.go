package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketCache   = []byte("cache")
	bucketJournal = []byte("journal")
)

// BoltStore persists the cache and journal in a bbolt file so that separate
// cron-triggered invocations share one inventory window.
type BoltStore struct {
	db    *bbolt.DB
	clock Clock
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string, clock Clock) (*BoltStore, error) {
	if clock == nil {
		clock = time.Now
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCache, bucketJournal} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db, clock: clock}, nil
}

func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var env envelope
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCache).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &env)
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if env.expired(s.clock()) {
		if err := s.Delete(key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (s *BoltStore) Set(key string, value []byte, ttl time.Duration) error {
	raw, err := json.Marshal(envelope{ExpiresAt: expiry(s.clock(), ttl), Value: value})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketJournal)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Sequence = seq

		value, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(uint64ToBytes(seq), value)
	})
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (s *BoltStore) Entries(limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
