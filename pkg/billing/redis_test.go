package billing

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisMeter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	meter := NewRedisMeter(client, 2)

	allowance, err := meter.CheckMessageLimit(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, Allowance{Allowed: true, Remaining: 2}, allowance)

	require.NoError(t, meter.IncrementMessageUsage(ctx, "org-1"))
	require.NoError(t, meter.IncrementMessageUsage(ctx, "org-1"))

	allowance, err = meter.CheckMessageLimit(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, allowance.Allowed)

	ttl, err := client.TTL(ctx, meter.key("org-1")).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
