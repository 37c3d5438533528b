package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/logger"
)

// Recorder observes registry housekeeping.
type Recorder interface {
	BucketsEvicted(n int)
	BucketsActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) BucketsEvicted(int) {}
func (nopRecorder) BucketsActive(int)  {}

type shard struct {
	mu      sync.RWMutex
	buckets map[Key]*Bucket
}

// getOrCreate returns the live bucket for key, creating it on first use.
func (s *shard) getOrCreate(key Key) *Bucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b = &Bucket{key: key}
	s.buckets[key] = b
	return b
}

// Registry owns every Bucket. Keys are spread over independent shards so a
// hot key only contends with keys in its own shard, and then only for the
// map lookup; the counter update itself holds just the bucket's mutex.
type Registry struct {
	shards   []*shard
	idleTTL  time.Duration
	clock    clock.Clock
	logger   logger.Logger
	recorder Recorder
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithShards sets the shard count.
func WithShards(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, n)
		}
	}
}

// WithIdleTTL sets how long past its window a bucket survives the sweep.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl >= 0 {
			r.idleTTL = ttl
		}
	}
}

// WithClock sets the clock used by Run.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l.WithComponent("bucket_registry") }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		shards:   make([]*shard, constants.DefaultRegistryShards),
		idleTTL:  constants.DefaultBucketIdleTTL,
		clock:    clock.System(),
		logger:   logger.NewNopLogger(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{buckets: make(map[Key]*Bucket)}
	}
	return r
}

func (r *Registry) shardFor(key Key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(key.Route)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key.Client)
	return r.shards[h.Sum64()%uint64(len(r.shards))]
}

// Hit counts one request for (route, clientKey) at now under limit.
// Concurrent hits on one key are applied exactly once each, in the order
// they acquire the bucket.
func (r *Registry) Hit(route, clientKey string, now time.Time, limit Limit) BucketDecision {
	key := Key{Route: route, Client: clientKey}
	s := r.shardFor(key)
	for {
		b := s.getOrCreate(key)
		b.mu.Lock()
		if b.evicted {
			b.mu.Unlock()
			continue
		}
		d := b.hit(now, limit)
		b.mu.Unlock()
		return d
	}
}

// Release drops the bucket for (route, clientKey) at once. It reports
// whether a bucket existed; releasing an unknown key is a no-op.
func (r *Registry) Release(route, clientKey string) bool {
	key := Key{Route: route, Client: clientKey}
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		return false
	}
	b.mu.Lock()
	b.evicted = true
	b.mu.Unlock()
	delete(s.buckets, key)
	return true
}

// Snapshot returns a copy of the bucket state, if the key is tracked.
func (r *Registry) Snapshot(route, clientKey string) (BucketView, bool) {
	key := Key{Route: route, Client: clientKey}
	s := r.shardFor(key)

	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if !ok {
		return BucketView{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evicted {
		return BucketView{}, false
	}
	return b.view(), true
}

// Len returns the number of tracked buckets.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.buckets)
		s.mu.RUnlock()
	}
	return n
}

// Sweep evicts buckets whose window ended at least idleTTL before now.
// Shards are swept one at a time, so hits on other shards never wait.
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	for _, s := range r.shards {
		removed += r.sweepShard(s, now)
	}
	return removed
}

func (r *Registry) sweepShard(s *shard, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		b.mu.Lock()
		if b.staleAt(now, r.idleTTL) {
			b.evicted = true
			delete(s.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "Bucket sweeper started",
		logger.Duration("interval", interval),
		logger.Duration("idle_ttl", r.idleTTL),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(context.Background(), "Bucket sweeper stopped")
			return
		case <-ticker.C:
			removed := r.Sweep(r.clock.Now())
			active := r.Len()
			r.recorder.BucketsEvicted(removed)
			r.recorder.BucketsActive(active)
			if removed > 0 {
				r.logger.Debug(ctx, "Cleaned up idle buckets",
					logger.Int("count", removed),
					logger.Int("active", active),
				)
			}
		}
	}
}
