package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gem-ai-tgbot-go/internal/models"
	"github.com/gem-ai-tgbot-go/internal/services/store"
)

// Usage counter expirations. Each counter stays readable for at least one
// full period after it stops being written, so /usage can always show the
// current day and month.
const (
	dailyUsageTTL   = 2 * 24 * time.Hour
	monthlyUsageTTL = 32 * 24 * time.Hour
)

// Meter tracks per-user daily and monthly token consumption. Counters are
// additive and reset implicitly through key expiry.
type Meter struct {
	kv  *store.Store
	now func() time.Time
}

func NewMeter(kv *store.Store) *Meter {
	return &Meter{kv: kv, now: time.Now}
}

func dailyUsageKey(userID int64, t time.Time) string {
	return fmt.Sprintf("usage:%d:daily:%s", userID, t.UTC().Format("2006-01-02"))
}

func monthlyUsageKey(userID int64, t time.Time) string {
	return fmt.Sprintf("usage:%d:monthly:%s", userID, t.UTC().Format("2006-01"))
}

// Record adds the response's total token count to today's and this month's
// counters and renews their expirations. A nil usage (streams may not carry
// metadata) is a no-op.
func (m *Meter) Record(ctx context.Context, userID int64, usage *models.TokenUsage) {
	if usage == nil || usage.TotalTokens == 0 {
		return
	}
	now := m.now()

	dailyKey := dailyUsageKey(userID, now)
	m.kv.IncrBy(ctx, dailyKey, int64(usage.TotalTokens))
	m.kv.Expire(ctx, dailyKey, dailyUsageTTL)

	monthlyKey := monthlyUsageKey(userID, now)
	m.kv.IncrBy(ctx, monthlyKey, int64(usage.TotalTokens))
	m.kv.Expire(ctx, monthlyKey, monthlyUsageTTL)
}

// Read returns the user's current daily and monthly totals, 0 when absent
// or on store failure.
func (m *Meter) Read(ctx context.Context, userID int64) models.UsageTotals {
	now := m.now()
	return models.UsageTotals{
		Daily:   m.readCounter(ctx, dailyUsageKey(userID, now)),
		Monthly: m.readCounter(ctx, monthlyUsageKey(userID, now)),
	}
}

func (m *Meter) readCounter(ctx context.Context, key string) int64 {
	value, found := m.kv.Get(ctx, key)
	if !found {
		return 0
	}
	total, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return total
}
