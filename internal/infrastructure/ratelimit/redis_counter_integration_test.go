//go:build integration

package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
)

// Several counters with their own connection pools stand in for several
// service processes sharing one Redis.
func TestRedisCounter_SharedAcrossProcesses(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	resource, err := pool.Run("redis", "7-alpine", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	addr := fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp"))
	require.NoError(t, pool.Retry(func() error {
		c := redis.NewClient(&redis.Options{Addr: addr})
		defer c.Close()
		return c.Ping(context.Background()).Err()
	}))

	const (
		processes = 4
		perProc   = 200
	)
	key := ratelimit.KeyFor("/api/v1/ids", "shared-client")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxHits uint64
	)
	for p := 0; p < processes; p++ {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		counter, err := ratelimit.NewRedisCounter(client)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProc; i++ {
				hits, _, err := counter.Increment(context.Background(), key, time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				if hits > maxHits {
					maxHits = hits
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(processes*perProc), maxHits, "no increment may be lost")
}
