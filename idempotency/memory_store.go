/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-reqguard/lrucache"
)

// DefaultMaxKeys bounds the number of records kept by MemoryStore.
const DefaultMaxKeys = 100000

// MemoryStore keeps records in process memory. Every replica of a service has its own records.
// When MaxKeys records are stored, saving a new one evicts the least recently used record.
type MemoryStore struct {
	ttl     time.Duration
	now     func() time.Time
	records *lrucache.LRUCache[string, *Record]
}

var _ Store = (*MemoryStore)(nil)

// MemoryStoreOpts represents options for MemoryStore.
type MemoryStoreOpts struct {
	// TTL is the lifetime of a record. DefaultTTL is used if 0.
	TTL time.Duration

	// MaxKeys is the maximum number of stored records. DefaultMaxKeys is used if 0.
	MaxKeys int

	// Now is the clock. time.Now is used if nil.
	Now func() time.Time

	// MetricsCollector collects cache usage statistics. Metrics are disabled if nil.
	MetricsCollector lrucache.MetricsCollector
}

// NewMemoryStore creates a new in-memory store with default options.
func NewMemoryStore() (*MemoryStore, error) {
	return NewMemoryStoreWithOpts(MemoryStoreOpts{})
}

// NewMemoryStoreWithOpts creates a new in-memory store.
func NewMemoryStoreWithOpts(opts MemoryStoreOpts) (*MemoryStore, error) {
	if opts.TTL < 0 {
		return nil, fmt.Errorf("TTL must be positive")
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxKeys == 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	records, err := lrucache.NewWithOpts[string, *Record](opts.MaxKeys, opts.MetricsCollector,
		lrucache.Options{DefaultTTL: opts.TTL, TimeNow: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("new records cache: %w", err)
	}
	return &MemoryStore{ttl: opts.TTL, now: opts.Now, records: records}, nil
}

// MustMemoryStore is like NewMemoryStoreWithOpts but panics on error.
func MustMemoryStore(opts MemoryStoreOpts) *MemoryStore {
	s, err := NewMemoryStoreWithOpts(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Check implements Store. The returned record is a copy.
func (s *MemoryStore) Check(_ context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, nil
	}
	rec, ok := s.records.Get(key)
	if !ok {
		return nil, nil
	}
	recCopy := *rec
	recCopy.Result = append([]byte(nil), rec.Result...)
	return &recCopy, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, key string, result []byte, status int) error {
	if key == "" {
		return nil
	}
	s.records.Add(key, &Record{
		Key:       key,
		Result:    append([]byte(nil), result...),
		Status:    status,
		Timestamp: s.now(),
	})
	return nil
}

// Cleanup implements Store.
func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	return s.records.RemoveExpired(), nil
}

// Close drops all stored records. The store stays usable and starts empty.
func (s *MemoryStore) Close() {
	s.records.Purge()
}

// Len returns the number of stored records, including expired ones not yet removed.
func (s *MemoryStore) Len() int {
	return s.records.Len()
}

// TTL returns the lifetime of a record.
func (s *MemoryStore) TTL() time.Duration {
	return s.ttl
}
