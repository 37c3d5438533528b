//go:build integration

package queue_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/admit/internal/domain/service"
	"github.com/turtacn/admit/internal/infrastructure/queue"
)

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}
}

func TestRedisStore_Integration(t *testing.T) {
	skipWithoutDocker(t)

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "could not connect to docker")

	resource, err := pool.Run("redis", "7-alpine", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp"))})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, pool.Retry(func() error {
		return client.Ping(context.Background()).Err()
	}))

	runStoreContract(t, func(t *testing.T) service.QueueStore {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		s, err := queue.NewRedisStore(client, queue.WithPrefix("it"), queue.WithTimeout(time.Second))
		require.NoError(t, err)
		return s
	})
}

func TestSQLStore_PostgresIntegration(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("admit"),
		postgres.WithUsername("admit"),
		postgres.WithPassword("admit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	runStoreContract(t, func(t *testing.T) service.QueueStore {
		require.NoError(t, db.Exec("DROP TABLE IF EXISTS queue_records").Error)
		s, err := queue.NewSQLStore(ctx, db, queue.WithSQLTimeout(5*time.Second))
		require.NoError(t, err)
		return s
	})
}
