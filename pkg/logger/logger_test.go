package logger

import (
	"testing"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestWithUser(t *testing.T) {
	entry := WithUser(logrus.New(), 42, "work")

	assert.Equal(t, int64(42), entry.Data["user_id"])
	assert.Equal(t, "work", entry.Data["chat"])
}
