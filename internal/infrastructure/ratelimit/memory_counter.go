package ratelimit

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/admit/pkg/errors"
)

// MemoryCounter is a single-process CounterStore. Windows expire on the
// wall clock.
type MemoryCounter struct {
	items *cache.Cache
}

// NewMemoryCounter creates a counter store purging expired windows every
// cleanupInterval.
func NewMemoryCounter(cleanupInterval time.Duration) *MemoryCounter {
	return &MemoryCounter{items: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Increment adds one hit to key's current window.
func (m *MemoryCounter) Increment(ctx context.Context, key string, window time.Duration) (uint64, time.Time, error) {
	if window <= 0 {
		return 0, time.Time{}, errors.ErrInvalidRequest("window must be positive")
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, time.Time{}, errors.ErrStoreUnavailable("increment", err)
		}
		if m.items.Add(key, uint64(1), window) == nil {
			_, exp, _ := m.items.GetWithExpiration(key)
			return 1, exp, nil
		}
		n, err := m.items.IncrementUint64(key, 1)
		if err != nil {
			// expired between Add and Increment
			continue
		}
		_, exp, found := m.items.GetWithExpiration(key)
		if !found {
			continue
		}
		return n, exp, nil
	}
}

// Reset deletes key's counter.
func (m *MemoryCounter) Reset(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}
