package middleware

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestAuthGate_Allowed(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	gate := NewAuthGate([]int64{100, 200}, log)

	assert.True(t, gate.Allowed(100))
	assert.True(t, gate.Allowed(200))
	assert.False(t, gate.Allowed(300))
	assert.False(t, gate.Allowed(0))
}

func TestAuthGate_EmptyAllowListDeniesEveryone(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	gate := NewAuthGate(nil, log)
	assert.False(t, gate.Allowed(100))
}
