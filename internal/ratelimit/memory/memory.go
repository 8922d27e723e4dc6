package memory

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/AlexKimmel/rtlmtr/internal/clock"
	"github.com/AlexKimmel/rtlmtr/internal/ratelimit"
)

const DefaultShards = 64

type shard struct {
	mu      sync.Mutex
	buckets map[string]ratelimit.Bucket
}

// Store maps keys to buckets. Keys are spread over a fixed set of shards;
// a key always lands in the same shard, so holding that shard's lock is
// exclusive access to the key.
type Store struct {
	shards []*shard
	size   atomic.Int64
}

// NewStore creates a store with n shards. n <= 0 uses DefaultShards and
// n == 1 serializes every key behind a single lock.
func NewStore(n int) *Store {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[string]ratelimit.Bucket)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// WithBucket runs fn with the current bucket for key (found=false if the key
// has never been stored) and stores the bucket fn returns. Lookup, fn and
// the write happen under one lock hold. fn must not call back into the store.
func (s *Store) WithBucket(key string, fn func(prior ratelimit.Bucket, found bool) ratelimit.Bucket) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	prior, found := sh.buckets[key]
	sh.buckets[key] = fn(prior, found)
	if !found {
		s.size.Inc()
	}
}

// Len is the number of tracked keys.
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Sweep deletes buckets last refilled before cutoff and returns how many
// were removed. Shards are locked one at a time.
func (s *Store) Sweep(cutoff time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if b.LastRefill.Before(cutoff) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.size.Sub(int64(removed))
	return removed
}

// Limiter applies one policy to every key of a Store.
type Limiter struct {
	store  *Store
	policy ratelimit.Policy
	clock  clock.Clock
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// New returns a limiter over store. The policy must already be validated.
func New(store *Store, p ratelimit.Policy, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real{}
	}
	return &Limiter{store: store, policy: p, clock: c}
}

// Allow consumes one token for key if one is available.
func (l *Limiter) Allow(key string) ratelimit.Decision {
	var dec ratelimit.Decision
	l.store.WithBucket(key, func(prior ratelimit.Bucket, found bool) ratelimit.Bucket {
		// read under the lock so LastRefill is monotonic per key
		var next ratelimit.Bucket
		dec, next = ratelimit.Decide(prior, found, l.clock.Now(), l.policy)
		return next
	})
	return dec
}
