// Package billing meters assistant traffic per organization. Plans and
// invoicing live with the billing collaborator; this package only answers
// whether one more message may be processed.
package billing

import (
	"context"
	"sync"
	"time"
)

// Unlimited is the Remaining value of an allowance without a limit.
const Unlimited = -1

// Allowance is the answer to a message-limit check.
type Allowance struct {
	Allowed   bool
	Remaining int
}

// Meter checks and counts processed messages.
type Meter interface {
	CheckMessageLimit(ctx context.Context, organizationID string) (Allowance, error)
	IncrementMessageUsage(ctx context.Context, organizationID string) error
}

func allowance(limit int, used int64) Allowance {
	if limit <= 0 {
		return Allowance{Allowed: true, Remaining: Unlimited}
	}

	remaining := max(int64(limit)-used, 0)

	return Allowance{Allowed: remaining > 0, Remaining: int(remaining)}
}

// period is the usage bucket of t: one per calendar month, UTC.
func period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NoopMeter allows everything and counts nothing.
type NoopMeter struct{}

func (NoopMeter) CheckMessageLimit(context.Context, string) (Allowance, error) {
	return Allowance{Allowed: true, Remaining: Unlimited}, nil
}

func (NoopMeter) IncrementMessageUsage(context.Context, string) error {
	return nil
}

// MemoryMeter counts monthly usage in process. A limit of zero disables it.
type MemoryMeter struct {
	limit int
	now   func() time.Time

	mu    sync.Mutex
	usage map[string]int64
}

func NewMemoryMeter(limit int) *MemoryMeter {
	return &MemoryMeter{
		limit: limit,
		now:   time.Now,
		usage: make(map[string]int64),
	}
}

func (m *MemoryMeter) key(organizationID string) string {
	return organizationID + ":" + period(m.now())
}

func (m *MemoryMeter) CheckMessageLimit(_ context.Context, organizationID string) (Allowance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return allowance(m.limit, m.usage[m.key(organizationID)]), nil
}

func (m *MemoryMeter) IncrementMessageUsage(_ context.Context, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage[m.key(organizationID)]++

	return nil
}
