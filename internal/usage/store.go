// Package usage persists per-account diagnostic counters in a bbolt
// database next to the account store. These are not billing meters; they
// exist so operators can see which accounts carry the load and how often
// each family gets rate limited.
package usage

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRequests   = []byte("requests")
	bucketRateLimits = []byte("rate_limits")
)

// Store wraps the bbolt database holding the counters.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the counter database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open usage database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, errBucket := tx.CreateBucketIfNotExists(bucketRequests); errBucket != nil {
			return errBucket
		}
		_, errBucket := tx.CreateBucketIfNotExists(bucketRateLimits)
		return errBucket
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot initialize usage database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// counterKey is "<email>/<family>".
func counterKey(email, family string) []byte {
	return []byte(email + "/" + family)
}

func (s *Store) increment(bucket []byte, key []byte) {
	if s == nil || s.db == nil {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		var count uint64
		if existing := b.Get(key); len(existing) == 8 {
			count = binary.BigEndian.Uint64(existing)
		}
		count++
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, count)
		return b.Put(key, value)
	})
	if err != nil {
		log.Warnf("usage counter update failed: %v", err)
	}
}

// RecordRequest counts one upstream request for (email, family).
func (s *Store) RecordRequest(email, family string) {
	s.increment(bucketRequests, counterKey(email, family))
}

// RecordRateLimit counts one rate-limit hit for (email, family).
func (s *Store) RecordRateLimit(email, family string) {
	s.increment(bucketRateLimits, counterKey(email, family))
}

// Counters is the exported snapshot of one (email, family) pair.
type Counters struct {
	Key        string `json:"key"`
	Requests   uint64 `json:"requests"`
	RateLimits uint64 `json:"rate_limits"`
}

// Snapshot returns every counter pair, merged across both buckets.
func (s *Store) Snapshot() []Counters {
	if s == nil || s.db == nil {
		return nil
	}
	merged := make(map[string]*Counters)
	_ = s.db.View(func(tx *bolt.Tx) error {
		_ = tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			entry := ensureEntry(merged, string(k))
			if len(v) == 8 {
				entry.Requests = binary.BigEndian.Uint64(v)
			}
			return nil
		})
		_ = tx.Bucket(bucketRateLimits).ForEach(func(k, v []byte) error {
			entry := ensureEntry(merged, string(k))
			if len(v) == 8 {
				entry.RateLimits = binary.BigEndian.Uint64(v)
			}
			return nil
		})
		return nil
	})
	out := make([]Counters, 0, len(merged))
	for _, entry := range merged {
		out = append(out, *entry)
	}
	return out
}

func ensureEntry(merged map[string]*Counters, key string) *Counters {
	entry, ok := merged[key]
	if !ok {
		entry = &Counters{Key: key}
		merged[key] = entry
	}
	return entry
}

// LogSummary writes the counters through logrus, used at shutdown.
func (s *Store) LogSummary() {
	for _, entry := range s.Snapshot() {
		log.Infof("usage %s: %d requests, %d rate limits", entry.Key, entry.Requests, entry.RateLimits)
	}
}
