package hype

import (
	"context"

	"github.com/google/uuid"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
)

// DetectBurst reports whether the session's reaction count within the
// trailing burst window meets the configured threshold. It is a stateless
// point-in-time check, independent of the hype loop and its score.
func (c *Calculator) DetectBurst(ctx context.Context, sessionID uuid.UUID) (bool, int, error) {
	since := c.clock.Now().Add(-c.burstWindow)
	count, err := c.activity.CountReactions(ctx, sessionID, since)
	if err != nil {
		return false, 0, apperrors.InternalError("failed to count reactions", err)
	}
	return count >= c.burstThreshold, count, nil
}
