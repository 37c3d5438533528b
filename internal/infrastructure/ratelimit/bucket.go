// Package ratelimit provides fixed-window rate limiting, in process and
// against a shared Redis.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/admit/pkg/errors"
)

// Limit is a fixed-window policy: at most Requests hits per Window.
type Limit struct {
	Requests uint64
	Window   time.Duration
}

// Validate rejects policies that would admit nothing or never reset.
func (l Limit) Validate(name string) error {
	if l.Requests == 0 {
		return errors.ErrInvalidConfig(name+".limit", "must be positive")
	}
	if l.Window <= 0 {
		return errors.ErrInvalidConfig(name+".window_ms", "must be positive")
	}
	return nil
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Requests, l.Window)
}

// Key identifies one bucket.
type Key struct {
	Route  string
	Client string
}

// BucketDecision is the value result of a single hit.
type BucketDecision struct {
	Allowed   bool
	Hits      uint64
	Remaining uint64
	Limit     uint64
	ResetAt   time.Time
}

// BucketView is a read-only copy of a bucket's state.
type BucketView struct {
	Key         Key
	Hits        uint64
	WindowStart time.Time
	ResetAt     time.Time
	Limited     bool
}

// Bucket is the per-key counter. It is owned by a Registry and only touched
// under its own mutex.
type Bucket struct {
	mu          sync.Mutex
	key         Key
	hits        uint64
	windowStart time.Time
	resetAt     time.Time
	limited     bool

	// evicted is set when the registry drops the bucket; a hit that finds it
	// set must look the key up again.
	evicted bool
}

// hit applies one request at now. Must be called with b.mu held.
func (b *Bucket) hit(now time.Time, limit Limit) BucketDecision {
	if b.resetAt.IsZero() || !now.Before(b.resetAt) {
		b.hits = 1
		b.windowStart = now
		b.resetAt = now.Add(limit.Window)
		b.limited = false
	} else {
		b.hits++
	}

	d := BucketDecision{
		Hits:    b.hits,
		Limit:   limit.Requests,
		ResetAt: b.resetAt,
	}
	if b.hits > limit.Requests {
		b.limited = true
		return d
	}
	d.Allowed = true
	d.Remaining = limit.Requests - b.hits
	return d
}

// staleAt reports whether the bucket has been idle for ttl past its window.
// Must be called with b.mu held.
func (b *Bucket) staleAt(now time.Time, ttl time.Duration) bool {
	return !now.Before(b.resetAt.Add(ttl))
}

// view must be called with b.mu held.
func (b *Bucket) view() BucketView {
	return BucketView{
		Key:         b.key,
		Hits:        b.hits,
		WindowStart: b.windowStart,
		ResetAt:     b.resetAt,
		Limited:     b.limited,
	}
}
