// Package reputation maintains the ledger-backed score per user and the
// values derived from it: level, vote weight, and activity streaks.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

const (
	// LevelUpBonus is granted once when a positive transaction crosses a
	// level threshold.
	LevelUpBonus = 25
	// SessionWinBonus is paid to the winning author at stage finalization.
	SessionWinBonus = 50

	voteWeightCap     = 5.0
	voteWeightDivisor = 1000.0
)

var levelThresholds = []struct {
	Level domain.Level
	Min   int
}{
	{domain.LevelBronze, 0},
	{domain.LevelSilver, 500},
	{domain.LevelGold, 2000},
	{domain.LevelPlatinum, 5000},
	{domain.LevelDiamond, 10000},
}

// LevelForScore returns the highest level whose threshold the score meets.
func LevelForScore(score int) domain.Level {
	level := domain.LevelBronze
	for _, t := range levelThresholds {
		if score >= t.Min {
			level = t.Level
		}
	}
	return level
}

// VoteWeightForScore returns min(1 + score/1000, 5).
func VoteWeightForScore(score int) float64 {
	return math.Min(1+float64(score)/voteWeightDivisor, voteWeightCap)
}

func levelRank(l domain.Level) int {
	for i, t := range levelThresholds {
		if t.Level == l {
			return i
		}
	}
	return 0
}

// Engine applies reputation changes. Every score mutation flows through
// AddReputation so the ledger stays the audit source of truth.
type Engine struct {
	repo  domain.ReputationRepository
	clock clockwork.Clock
}

func NewEngine(repo domain.ReputationRepository, clock clockwork.Clock) *Engine {
	return &Engine{repo: repo, clock: clock}
}

// Get returns the user's reputation, materializing a fresh bronze record
// for users never seen before.
func (e *Engine) Get(ctx context.Context, userID uuid.UUID) (*domain.Reputation, error) {
	rep, err := e.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.freshReputation(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation for %s: %w", userID, err)
	}
	return rep, nil
}

// Ledger returns the user's most recent ledger entries, newest first.
func (e *Engine) Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	entries, err := e.repo.ListLedger(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger for %s: %w", userID, err)
	}
	return entries, nil
}

func (e *Engine) freshReputation(userID uuid.UUID) *domain.Reputation {
	return &domain.Reputation{
		UserID:     userID,
		Score:      0,
		Level:      domain.LevelBronze,
		VoteWeight: 1,
	}
}

// AddReputation applies a signed amount to the user's score, clamped at a
// floor of 0, recomputes level and vote weight, and appends a ledger entry
// whose balanceAfter is the post-clamp score. A positive amount that lifts
// the user into a higher level grants LevelUpBonus exactly once; the bonus
// is applied inline without re-running the level-up check, so it can never
// cascade.
func (e *Engine) AddReputation(ctx context.Context, userID uuid.UUID, amount int, txType domain.TransactionType, source string) (*domain.Reputation, error) {
	rep, err := e.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	oldLevel := rep.Level

	applied := e.applyDelta(rep, amount, now)
	if err := e.persist(ctx, rep, applied, txType, source, now); err != nil {
		return nil, err
	}

	if amount > 0 && levelRank(rep.Level) > levelRank(oldLevel) {
		bonus := e.applyDelta(rep, LevelUpBonus, now)
		if err := e.persist(ctx, rep, bonus, domain.TxLevelUp, string(rep.Level), now); err != nil {
			return nil, err
		}
		slog.Info("Level up",
			"user_id", userID.String(),
			"from", string(oldLevel),
			"to", string(rep.Level),
			"score", rep.Score,
		)
	}

	return rep, nil
}

// applyDelta mutates the score and its derived fields; it never touches the
// level-up bonus logic.
func (e *Engine) applyDelta(rep *domain.Reputation, amount int, now time.Time) int {
	newScore := rep.Score + amount
	if newScore < 0 {
		newScore = 0
	}
	applied := newScore - rep.Score
	rep.Score = newScore
	rep.Level = LevelForScore(newScore)
	rep.VoteWeight = VoteWeightForScore(newScore)
	if amount > 0 {
		rep.LastActiveAt = now
	}
	rep.UpdatedAt = now
	return applied
}

func (e *Engine) persist(ctx context.Context, rep *domain.Reputation, applied int, txType domain.TransactionType, source string, now time.Time) error {
	if err := e.repo.Save(ctx, rep); err != nil {
		return fmt.Errorf("save reputation for %s: %w", rep.UserID, err)
	}
	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		UserID:       rep.UserID,
		Amount:       applied,
		Type:         txType,
		Source:       source,
		BalanceAfter: rep.Score,
		CreatedAt:    now,
	}
	if err := e.repo.AppendLedger(ctx, entry); err != nil {
		return fmt.Errorf("append ledger for %s: %w", rep.UserID, err)
	}
	metrics.ReputationTransactionsTotal.WithLabelValues(string(txType)).Inc()
	return nil
}

// VoteWeightFor returns the weight snapshot to stamp on a vote cast now.
func (e *Engine) VoteWeightFor(ctx context.Context, userID uuid.UUID) (float64, error) {
	rep, err := e.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rep.VoteWeight, nil
}
