package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/clock"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestRegistry_FixedWindow(t *testing.T) {
	r := NewRegistry()
	limit := Limit{Requests: 3, Window: time.Second}

	for i, ms := range []int{0, 200, 400} {
		d := r.Hit("/api", "1.2.3.4", at(ms), limit)
		assert.True(t, d.Allowed)
		assert.Equal(t, uint64(2-i), d.Remaining)
		assert.Equal(t, at(1000), d.ResetAt)
	}

	d := r.Hit("/api", "1.2.3.4", at(600), limit)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, at(1000), d.ResetAt)

	view, ok := r.Snapshot("/api", "1.2.3.4")
	require.True(t, ok)
	assert.True(t, view.Limited)
	assert.Equal(t, uint64(4), view.Hits)

	d = r.Hit("/api", "1.2.3.4", at(1050), limit)
	assert.True(t, d.Allowed)
	assert.Equal(t, uint64(2), d.Remaining)
	assert.Equal(t, at(2050), d.ResetAt)

	view, ok = r.Snapshot("/api", "1.2.3.4")
	require.True(t, ok)
	assert.False(t, view.Limited)
	assert.Equal(t, at(1050), view.WindowStart)
}

func TestRegistry_HundredPerMinute(t *testing.T) {
	r := NewRegistry()
	limit := Limit{Requests: 100, Window: time.Minute}

	var d BucketDecision
	for i := 0; i < 100; i++ {
		d = r.Hit("/api", "client", at(i), limit)
		require.True(t, d.Allowed, "hit %d", i+1)
	}
	assert.Zero(t, d.Remaining)

	d = r.Hit("/api", "client", at(100), limit)
	assert.False(t, d.Allowed)

	d = r.Hit("/api", "client", d.ResetAt, limit)
	assert.True(t, d.Allowed)
	assert.Equal(t, uint64(99), d.Remaining)
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry()
	limit := Limit{Requests: 1, Window: time.Minute}

	assert.True(t, r.Hit("/a", "c1", t0, limit).Allowed)
	assert.False(t, r.Hit("/a", "c1", t0, limit).Allowed)
	assert.True(t, r.Hit("/a", "c2", t0, limit).Allowed)
	assert.True(t, r.Hit("/b", "c1", t0, limit).Allowed)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_Release(t *testing.T) {
	r := NewRegistry()
	limit := Limit{Requests: 1, Window: time.Minute}

	assert.False(t, r.Release("/missing", "nobody"))

	r.Hit("/a", "c1", t0, limit)
	assert.False(t, r.Hit("/a", "c1", t0, limit).Allowed)

	assert.True(t, r.Release("/a", "c1"))
	assert.Zero(t, r.Len())
	assert.False(t, r.Release("/a", "c1"))

	d := r.Hit("/a", "c1", t0, limit)
	assert.True(t, d.Allowed)
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry(WithIdleTTL(time.Minute), WithShards(4))
	limit := Limit{Requests: 10, Window: time.Second}

	r.Hit("/a", "old", t0, limit)
	r.Hit("/a", "new", t0.Add(time.Minute), limit)

	assert.Zero(t, r.Sweep(t0.Add(time.Minute)))
	assert.Equal(t, 1, r.Sweep(t0.Add(time.Minute+time.Second)))
	assert.Equal(t, 1, r.Len())

	_, ok := r.Snapshot("/a", "old")
	assert.False(t, ok)
	_, ok = r.Snapshot("/a", "new")
	assert.True(t, ok)
}

func TestRegistry_ConcurrentHitsApplyOnce(t *testing.T) {
	r := NewRegistry()
	const (
		workers = 32
		perG    = 250
		limit   = 1000
	)
	l := Limit{Requests: limit, Window: time.Hour}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				if r.Hit("/hot", "client", t0, l).Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
	view, ok := r.Snapshot("/hot", "client")
	require.True(t, ok)
	assert.Equal(t, uint64(workers*perG), view.Hits)
}

func TestRegistry_ConcurrentHitsWithRelease(t *testing.T) {
	r := NewRegistry(WithShards(1))
	l := Limit{Requests: 1 << 20, Window: time.Hour}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Release("/hot", "client")
				r.Sweep(t0.Add(2 * time.Hour))
			}
		}
	}()

	var hitters sync.WaitGroup
	for i := 0; i < 8; i++ {
		hitters.Add(1)
		go func(i int) {
			defer hitters.Done()
			for j := 0; j < 500; j++ {
				d := r.Hit("/hot", "client", t0, l)
				assert.True(t, d.Allowed)
				r.Hit("/cold", fmt.Sprintf("c%d", i), t0, l)
			}
		}(i)
	}
	hitters.Wait()
	close(stop)
	wg.Wait()
}

type countingRecorder struct {
	mu      sync.Mutex
	evicted int
	active  int
	ticks   int
}

func (c *countingRecorder) BucketsEvicted(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted += n
	c.ticks++
}

func (c *countingRecorder) BucketsActive(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = n
}

func (c *countingRecorder) snapshot() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted, c.active, c.ticks
}

func TestRegistry_Run(t *testing.T) {
	rec := &countingRecorder{}
	r := NewRegistry(
		WithIdleTTL(0),
		WithRecorder(rec),
		WithClock(clock.Func(func() time.Time { return t0.Add(time.Hour) })),
	)
	r.Hit("/a", "c", t0, Limit{Requests: 1, Window: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		evicted, _, _ := rec.snapshot()
		return evicted == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	_, active, ticks := rec.snapshot()
	assert.Zero(t, active)
	assert.Positive(t, ticks)
	assert.Zero(t, r.Len())
}
