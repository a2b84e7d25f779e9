package middleware

import (
	"io"
	"testing"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRateLimiter_DisabledAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(&config.Config{}, testLogger())

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(1))
	}
}

func TestRateLimiter_EnforcesBurstPerUser(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             2,
		},
	}
	rl := NewRateLimiter(cfg, testLogger())

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))

	// Each user gets an independent bucket
	assert.True(t, rl.Allow(2))
}
