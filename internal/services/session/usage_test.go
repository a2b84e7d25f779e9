package session

import (
	"context"
	"testing"
	"time"

	"github.com/gem-ai-tgbot-go/internal/models"
	"github.com/stretchr/testify/assert"
)

func newTestMeter(t *testing.T, at time.Time) *Meter {
	t.Helper()

	kv, _ := newTestKV(t)
	m := NewMeter(kv)
	m.now = func() time.Time { return at }
	return m
}

func TestMeter_ReadZeroWhenAbsent(t *testing.T) {
	m := newTestMeter(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	totals := m.Read(context.Background(), 1)
	assert.Zero(t, totals.Daily)
	assert.Zero(t, totals.Monthly)
}

func TestMeter_RecordAccumulates(t *testing.T) {
	m := newTestMeter(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	m.Record(ctx, 1, &models.TokenUsage{TotalTokens: 100})
	m.Record(ctx, 1, &models.TokenUsage{TotalTokens: 50})

	totals := m.Read(ctx, 1)
	assert.Equal(t, int64(150), totals.Daily)
	assert.Equal(t, int64(150), totals.Monthly)

	// Other users are unaffected
	assert.Zero(t, m.Read(ctx, 2).Daily)
}

func TestMeter_RecordNilOrZeroIsNoop(t *testing.T) {
	m := newTestMeter(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	m.Record(ctx, 1, nil)
	m.Record(ctx, 1, &models.TokenUsage{})

	totals := m.Read(ctx, 1)
	assert.Zero(t, totals.Daily)
	assert.Zero(t, totals.Monthly)
}

func TestMeter_DayRollsOverWithinMonth(t *testing.T) {
	kv, _ := newTestKV(t)
	m := NewMeter(kv)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return day1 }
	m.Record(ctx, 1, &models.TokenUsage{TotalTokens: 100})

	m.now = func() time.Time { return day2 }
	m.Record(ctx, 1, &models.TokenUsage{TotalTokens: 40})

	totals := m.Read(ctx, 1)
	assert.Equal(t, int64(40), totals.Daily)
	assert.Equal(t, int64(140), totals.Monthly)
}
