package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usageKeyPrefix = "chatflow:usage:"
	// usageRetention keeps a month bucket around a little past its month.
	usageRetention = 40 * 24 * time.Hour
)

// RedisMeter shares monthly usage counters between instances.
type RedisMeter struct {
	client redis.UniversalClient
	limit  int
	now    func() time.Time
}

func NewRedisMeter(client redis.UniversalClient, limit int) *RedisMeter {
	return &RedisMeter{client: client, limit: limit, now: time.Now}
}

func (m *RedisMeter) key(organizationID string) string {
	return usageKeyPrefix + organizationID + ":" + period(m.now())
}

func (m *RedisMeter) CheckMessageLimit(ctx context.Context, organizationID string) (Allowance, error) {
	if m.limit <= 0 {
		return allowance(0, 0), nil
	}

	used, err := m.client.Get(ctx, m.key(organizationID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Allowance{}, fmt.Errorf("failed to read message usage: %w", err)
	}

	return allowance(m.limit, used), nil
}

func (m *RedisMeter) IncrementMessageUsage(ctx context.Context, organizationID string) error {
	key := m.key(organizationID)

	pipe := m.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, usageRetention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment message usage: %w", err)
	}

	return nil
}
