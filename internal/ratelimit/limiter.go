// Package ratelimit implements the per-(subject, action) cooldown gate used
// by chat slow-mode, word submissions, and reaction cooldowns.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stagepulse/stagepulse/internal/domain"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Limited     bool `json:"limited"`
	WaitSeconds int  `json:"waitSeconds"`
}

// Limiter gates actions with a fixed per-subject cooldown window.
// Given the same window and last qualifying event, the wait time is always
// ceil((lastEvent + window) - now); no other state is consulted.
type Limiter struct {
	store domain.RateLimitStore
	clock clockwork.Clock
}

func New(store domain.RateLimitStore, clock clockwork.Clock) *Limiter {
	return &Limiter{store: store, clock: clock}
}

// Check applies the cooldown gate for subjectKey. When the subject is
// admitted, the current time is recorded as its last qualifying event;
// denied checks record nothing, so waiting out the window always works.
func (l *Limiter) Check(ctx context.Context, subjectKey string, windowSeconds int) (Result, error) {
	if windowSeconds <= 0 {
		return Result{}, nil
	}

	last, err := l.store.LastEvent(ctx, subjectKey)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit lookup for %s: %w", subjectKey, err)
	}

	now := l.clock.Now()
	window := time.Duration(windowSeconds) * time.Second

	if !last.IsZero() {
		elapsed := now.Sub(last)
		if elapsed < window {
			wait := int(math.Ceil((window - elapsed).Seconds()))
			return Result{Limited: true, WaitSeconds: wait}, nil
		}
	}

	if err := l.store.SetLastEvent(ctx, subjectKey, now); err != nil {
		return Result{}, fmt.Errorf("rate limit record for %s: %w", subjectKey, err)
	}
	return Result{}, nil
}

// SubjectKey builds the store key for an authenticated subject.
func SubjectKey(action string, scope uuid.UUID, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:user:%s", action, scope, userID)
}

// AnonSubjectKey builds the store key for an unauthenticated subject,
// falling back to the network address so anonymous abuse is still bounded.
func AnonSubjectKey(action string, scope uuid.UUID, remoteAddr string) string {
	return fmt.Sprintf("%s:%s:ip:%s", action, scope, remoteAddr)
}
