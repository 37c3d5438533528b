package queue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// LPOP only while the head still equals ARGV[1].
var removeHeadScript = redis.NewScript(`
local head = redis.call('LINDEX', KEYS[1], 0)
if head and head == ARGV[1] then
    redis.call('LPOP', KEYS[1])
    return 1
end
return 0
`)

// RedisStore keeps each key as a Redis list, so every process sharing the
// Redis sees the same queues.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  logger.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTimeout bounds each round trip in addition to the caller's context.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = l.WithComponent("redis_queue") }
}

// NewRedisStore creates a store on client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.ErrInvalidRequest("redis client is required")
	}
	s := &RedisStore{
		client:  client,
		timeout: constants.DefaultStoreTimeout,
		logger:  logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) fail(ctx context.Context, op, key string, err error) error {
	s.logger.Warn(ctx, "Queue operation failed",
		logger.String("op", op),
		logger.String("key", key),
		logger.Err(err),
	)
	return errors.ErrStoreUnavailable(op, err)
}

// Push appends value with RPUSH.
func (s *RedisStore) Push(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.RPush(ctx, s.key(key), value).Err(); err != nil {
		return s.fail(ctx, "push", key, err)
	}
	return nil
}

// Pop removes the head with LPOP.
func (s *RedisStore) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	v, err := s.client.LPop(ctx, s.key(key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, s.fail(ctx, "pop", key, err)
	}
	return v, true, nil
}

// RemoveHead pops the head only if it equals expected, in one script so no
// other client can pop in between.
func (s *RedisStore) RemoveHead(ctx context.Context, key string, expected []byte) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := removeHeadScript.Run(ctx, s.client, []string{s.key(key)}, expected).Int()
	if err != nil {
		return false, s.fail(ctx, "remove_head", key, err)
	}
	return n == 1, nil
}

// Peek reads the head with LINDEX 0.
func (s *RedisStore) Peek(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	v, err := s.client.LIndex(ctx, s.key(key), 0).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, s.fail(ctx, "peek", key, err)
	}
	return v, true, nil
}

// Size returns LLEN.
func (s *RedisStore) Size(ctx context.Context, key string) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.LLen(ctx, s.key(key)).Uint64()
	if err != nil {
		return 0, s.fail(ctx, "size", key, err)
	}
	return n, nil
}

// Expire sets a TTL on the whole list.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.PExpire(ctx, s.key(key), ttl).Err(); err != nil {
		return s.fail(ctx, "expire", key, err)
	}
	return nil
}
