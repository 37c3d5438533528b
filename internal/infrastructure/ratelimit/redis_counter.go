package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// Fixed-window counter: the first hit in a window starts the expiry, later
// hits only increment. A key that lost its TTL gets a fresh one.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter is a CounterStore shared by every process pointing at the
// same Redis.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
	logger logger.Logger
}

// CounterOption configures a RedisCounter.
type CounterOption func(*RedisCounter)

// WithCounterPrefix sets the key namespace.
func WithCounterPrefix(prefix string) CounterOption {
	return func(c *RedisCounter) { c.prefix = prefix }
}

// WithCounterClock sets the clock used to derive reset times.
func WithCounterClock(cl clock.Clock) CounterOption {
	return func(c *RedisCounter) { c.clock = cl }
}

// WithCounterLogger sets the logger.
func WithCounterLogger(l logger.Logger) CounterOption {
	return func(c *RedisCounter) { c.logger = l.WithComponent("redis_counter") }
}

// NewRedisCounter creates a counter store on client.
func NewRedisCounter(client redis.UniversalClient, opts ...CounterOption) (*RedisCounter, error) {
	if client == nil {
		return nil, errors.ErrInvalidRequest("redis client is required")
	}
	c := &RedisCounter{
		client: client,
		prefix: constants.DefaultRateLimitNamespace,
		clock:  clock.System(),
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Increment adds one hit to key's current window and returns the new count
// and when the window ends.
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (uint64, time.Time, error) {
	if window <= 0 {
		return 0, time.Time{}, errors.ErrInvalidRequest("window must be positive")
	}
	now := c.clock.Now()
	res, err := fixedWindowScript.Run(ctx, c.client, []string{c.buildKey(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		c.logger.Warn(ctx, "Counter increment failed",
			logger.String("key", key),
			logger.Err(err),
		)
		return 0, time.Time{}, errors.ErrStoreUnavailable("increment", err)
	}
	if len(res) != 2 || res[0] < 1 {
		return 0, time.Time{}, errors.ErrStoreUnavailable("increment", fmt.Errorf("unexpected script result %v", res))
	}
	return uint64(res[0]), now.Add(time.Duration(res[1]) * time.Millisecond), nil
}

// Reset deletes key's counter. Missing keys are not an error.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil && err != redis.Nil {
		return errors.ErrStoreUnavailable("reset", err)
	}
	c.logger.Debug(ctx, "Rate limit reset", logger.String("key", key))
	return nil
}

func (c *RedisCounter) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// KeyFor builds the counter key for one client on one route. The counter
// adds its namespace in front.
func KeyFor(route, client string) string {
	return route + ":" + client
}
