package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stagepulse/stagepulse/internal/domain"
)

const (
	streakBonusEvery = 7
	streakBonusUnit  = 5
)

// RecordActivity updates the user's consecutive-day streak for activity
// happening now. Same-day repeats are no-ops; a one-day gap extends the
// streak; anything longer resets it to 1. Every 7th consecutive day grants
// a bonus of 5 × streak/7 through the normal reputation path.
func (e *Engine) RecordActivity(ctx context.Context, userID uuid.UUID) (*domain.Reputation, error) {
	rep, err := e.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	today := day(now)
	last := day(rep.Streaks.LastActiveDay)

	switch {
	case !rep.Streaks.LastActiveDay.IsZero() && today.Equal(last):
		return rep, nil
	case !rep.Streaks.LastActiveDay.IsZero() && today.Equal(last.AddDate(0, 0, 1)):
		rep.Streaks.CurrentStreak++
	default:
		rep.Streaks.CurrentStreak = 1
	}

	if rep.Streaks.CurrentStreak > rep.Streaks.LongestStreak {
		rep.Streaks.LongestStreak = rep.Streaks.CurrentStreak
	}
	rep.Streaks.LastActiveDay = today
	rep.LastActiveAt = now
	rep.UpdatedAt = now

	if err := e.repo.Save(ctx, rep); err != nil {
		return nil, fmt.Errorf("save streak for %s: %w", userID, err)
	}

	if rep.Streaks.CurrentStreak%streakBonusEvery == 0 {
		bonus := streakBonusUnit * (rep.Streaks.CurrentStreak / streakBonusEvery)
		source := fmt.Sprintf("streak-day-%d", rep.Streaks.CurrentStreak)
		return e.AddReputation(ctx, userID, bonus, domain.TxStreakBonus, source)
	}

	return rep, nil
}

// day truncates to a UTC calendar day so streak math ignores time zones.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
