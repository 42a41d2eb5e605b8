package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Level is a reputation tier derived from score. Never set directly.
type Level string

const (
	LevelBronze   Level = "bronze"
	LevelSilver   Level = "silver"
	LevelGold     Level = "gold"
	LevelPlatinum Level = "platinum"
	LevelDiamond  Level = "diamond"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxVoteReceived TransactionType = "vote_received"
	TxSessionWin   TransactionType = "session_win"
	TxLevelUp      TransactionType = "level_up"
	TxStreakBonus  TransactionType = "streak_bonus"
	TxDecay        TransactionType = "decay"
	TxAdjustment   TransactionType = "adjustment"
)

// Streaks tracks consecutive-day activity.
type Streaks struct {
	CurrentStreak int       `json:"currentStreak"`
	LongestStreak int       `json:"longestStreak"`
	LastActiveDay time.Time `json:"lastActiveDay"`
}

// Reputation is a user's derived standing. Score is the only independent
// value: Level and VoteWeight are recomputed on every score change.
type Reputation struct {
	UserID       uuid.UUID `json:"userId"`
	Score        int       `json:"score"`
	Level        Level     `json:"level"`
	VoteWeight   float64   `json:"voteWeight"`
	Streaks      Streaks   `json:"streaks"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LedgerEntry is one immutable reputation change. The ledger is the audit
// source of truth; entries are appended, never mutated or deleted.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"userId"`
	Amount       int             `json:"amount"`
	Type         TransactionType `json:"type"`
	Source       string          `json:"source"`
	BalanceAfter int             `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ReputationRepository persists reputation state and the append-only ledger.
type ReputationRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Reputation, error)
	Save(ctx context.Context, rep *Reputation) error
	AppendLedger(ctx context.Context, entry *LedgerEntry) error
	ListLedger(ctx context.Context, userID uuid.UUID, limit int) ([]*LedgerEntry, error)
	// ListInactive returns users whose LastActiveAt is before the cutoff
	// and whose score is above zero.
	ListInactive(ctx context.Context, cutoff time.Time) ([]*Reputation, error)
}
