package middleware

import (
	"github.com/sirupsen/logrus"
)

// AuthGate checks users against the static allow-list loaded at startup.
// Handlers call Allowed before touching any per-user state; a rejected
// request reads and writes nothing.
type AuthGate struct {
	allowed map[int64]struct{}
	logger  *logrus.Logger
}

// NewAuthGate builds the gate from the configured user ids.
func NewAuthGate(userIDs []int64, logger *logrus.Logger) *AuthGate {
	allowed := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	return &AuthGate{allowed: allowed, logger: logger}
}

// Allowed reports whether the user may use the bot.
func (g *AuthGate) Allowed(userID int64) bool {
	_, ok := g.allowed[userID]
	if !ok {
		g.logger.WithField("user_id", userID).Warn("Rejected unauthorized user")
	}
	return ok
}
