// Package testdb starts throwaway Redis instances for integration tests.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phixlab/nutrilens/backend/config"
	"github.com/phixlab/nutrilens/backend/internal/database"
)

// TestRedis wraps a Redis container and a connected client
type TestRedis struct {
	Client    *redis.Client
	Config    *config.Config
	Container testcontainers.Container
}

// Close releases the client and terminates the container
func (tr *TestRedis) Close() error {
	if tr.Client != nil {
		_ = tr.Client.Close()
	}
	if tr.Container != nil {
		return tr.Container.Terminate(context.Background())
	}
	return nil
}

// SetupTestRedis starts a Redis container. It is skipped under -short.
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	t.Setenv("ENV", "test")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	t.Setenv("REDIS_HOST", host)
	t.Setenv("REDIS_PORT", port.Port())

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	client, err := database.NewRedisClient(ctx, cfg)
	require.NoError(t, err)

	tr := &TestRedis{Client: client, Config: cfg, Container: container}
	t.Cleanup(func() {
		if err := tr.Close(); err != nil {
			t.Logf("Error cleaning up test Redis: %v", err)
		}
	})
	return tr
}
