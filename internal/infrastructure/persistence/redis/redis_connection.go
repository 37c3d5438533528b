// Package redis provides Redis connection management and client initialization.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/pkg/logger"
)

// Connection manages the Redis client lifecycle. One address gives a plain
// client, several give a cluster client.
type Connection struct {
	config *config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection creates the client and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	if cfg == nil || len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("redis addresses not configured")
	}
	log = log.WithComponent("redis")

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error(ctx, "Redis ping failed", err, logger.Any("addrs", cfg.Addresses))
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info(ctx, "Redis connection established successfully",
		logger.Any("addrs", cfg.Addresses),
		logger.Int("pool_size", cfg.PoolSize),
	)
	return &Connection{config: cfg, client: client, logger: log}, nil
}

// Client returns the Redis client.
func (rc *Connection) Client() redis.UniversalClient {
	return rc.client
}

// Ping checks Redis server connectivity.
func (rc *Connection) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		rc.logger.Error(ctx, "Redis ping failed", err)
		return err
	}
	return nil
}

// HealthCheck reports connectivity, latency and pool statistics.
func (rc *Connection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	health := make(map[string]interface{})

	start := time.Now()
	err := rc.client.Ping(ctx).Err()
	health["connected"] = err == nil
	health["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := rc.client.PoolStats()
	health["pool_hits"] = stats.Hits
	health["pool_misses"] = stats.Misses
	health["pool_timeouts"] = stats.Timeouts
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	return health, nil
}

// Close releases the client.
func (rc *Connection) Close() error {
	if err := rc.client.Close(); err != nil {
		rc.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	rc.logger.Info(context.Background(), "Redis connection closed successfully")
	return nil
}
