//go:build integration

package integration

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/V4T54L/audit-trail/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/audit-trail/internal/adapter/repository/redis"
)

// startPostgres runs a throwaway PostgreSQL with the audit schema applied.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("audit"),
		tcpostgres.WithUsername("audit"),
		tcpostgres.WithPassword("audit"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { terminate(t, container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

// startRedis runs a throwaway Redis and returns a connected client.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { terminate(t, container) })

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	client, err := redisrepo.NewClient(addr)
	if err != nil {
		t.Fatalf("failed to build redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

func terminate(t *testing.T, c testcontainers.Container) {
	if err := c.Terminate(context.Background()); err != nil {
		t.Logf("failed to terminate container: %v", err)
	}
}
