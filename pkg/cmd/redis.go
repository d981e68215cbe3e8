package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/billing"
	"github.com/dukex/chatflow/pkg/locker"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL means no redis.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil //nolint:nilnil // redis is optional
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}

// NewLocker serializes conversation turns across instances when redis is
// configured, and within the process otherwise.
func NewLocker(logger *slog.Logger, client *redis.Client) locker.Locker {
	if client == nil {
		return locker.NewMemoryLocker()
	}

	return locker.NewRedisLocker(logger, client, locker.DefaultLockTTL)
}

// NewMeter counts messages in redis when configured. A zero limit disables metering.
func NewMeter(client *redis.Client, limit int) billing.Meter {
	switch {
	case limit <= 0:
		return billing.NoopMeter{}
	case client == nil:
		return billing.NewMemoryMeter(limit)
	default:
		return billing.NewRedisMeter(client, limit)
	}
}
