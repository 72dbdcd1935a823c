package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
)

// LeaseStore backs the provisioning lease and the StartDuel rate limit.
// These guards must hold across the deployed fleet, so the production
// implementation lives in a shared store; process-local maps are only for
// single-process deployments and tests.
type LeaseStore interface {
	// Acquire takes the named lease if nobody holds it. The entry expires
	// with the store's TTL; holders may Release earlier.
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error

	// Increment bumps a counter bucket and returns the new count. Buckets
	// expire with the store's TTL, which is the rate-limit window.
	Increment(ctx context.Context, key string) (int, error)
}

// KVLeaseStore implements LeaseStore on a JetStream key-value bucket. The
// bucket TTL is the lease duration / rate window.
type KVLeaseStore struct {
	kv jetstream.KeyValue
}

// NewKVLeaseStore creates or opens the named bucket with the given TTL.
func NewKVLeaseStore(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*KVLeaseStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "duel engine leases and rate-limit buckets",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create KV bucket %s: %w", bucket, err)
	}
	return &KVLeaseStore{kv: kv}, nil
}

func (s *KVLeaseStore) Acquire(ctx context.Context, key string) (bool, error) {
	_, err := s.kv.Create(ctx, key, []byte("1"))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return true, nil
}

func (s *KVLeaseStore) Release(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

func (s *KVLeaseStore) Increment(ctx context.Context, key string) (int, error) {
	// CAS loop on the entry revision; contention here is two participants
	// of the same duel, so a couple of retries suffice.
	for attempt := 0; attempt < 5; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, jetstream.ErrKeyNotFound) {
				return 0, fmt.Errorf("read counter %s: %w", key, err)
			}
			if _, err := s.kv.Create(ctx, key, []byte("1")); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue
				}
				return 0, fmt.Errorf("init counter %s: %w", key, err)
			}
			return 1, nil
		}

		count, err := strconv.Atoi(string(entry.Value()))
		if err != nil {
			count = 0
		}
		count++
		if _, err := s.kv.Update(ctx, key, []byte(strconv.Itoa(count)), entry.Revision()); err != nil {
			continue
		}
		return count, nil
	}
	return 0, fmt.Errorf("increment counter %s: too much contention", key)
}

// MemoryLeaseStore is the process-local implementation. Correct only for a
// single-process deployment; a horizontally scaled fleet needs KVLeaseStore.
type MemoryLeaseStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clockwork.Clock
	entries map[string]memoryLease
}

type memoryLease struct {
	count     int
	expiresAt time.Time
}

// NewMemoryLeaseStore creates an in-memory store with the given TTL.
func NewMemoryLeaseStore(ttl time.Duration, clock clockwork.Clock) *MemoryLeaseStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLeaseStore{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]memoryLease),
	}
}

func (s *MemoryLeaseStore) Acquire(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryLease{count: 1, expiresAt: now.Add(s.ttl)}
	return true, nil
}

func (s *MemoryLeaseStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryLeaseStore) Increment(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		s.entries[key] = memoryLease{count: 1, expiresAt: now.Add(s.ttl)}
		return 1, nil
	}
	e.count++
	s.entries[key] = e
	return e.count, nil
}
