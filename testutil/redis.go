package testutil

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupTestRedis starts a disposable Redis container and returns a client connected to it.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
		if termErr := container.Terminate(context.Background()); termErr != nil {
			t.Logf("failed to terminate redis container: %v", termErr)
		}
	})
	require.NoError(t, client.Ping(ctx).Err())
	return client
}
