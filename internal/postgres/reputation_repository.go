package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

// ReputationRepository persists reputation state and the append-only ledger.
type ReputationRepository struct {
	pool *pgxpool.Pool
}

func NewReputationRepository(pool *pgxpool.Pool) *ReputationRepository {
	return &ReputationRepository{pool: pool}
}

var _ domain.ReputationRepository = (*ReputationRepository)(nil)

func (r *ReputationRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Reputation, error) {
	defer observe("reputation_get", time.Now())

	var rep domain.Reputation
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, score, level, vote_weight,
		       current_streak, longest_streak, last_active_day,
		       last_active_at, updated_at
		FROM reputations
		WHERE user_id = $1
	`, userID).Scan(
		&rep.UserID, &rep.Score, &rep.Level, &rep.VoteWeight,
		&rep.Streaks.CurrentStreak, &rep.Streaks.LongestStreak, &rep.Streaks.LastActiveDay,
		&rep.LastActiveAt, &rep.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("reputation_get").Inc()
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	return &rep, nil
}

// Save upserts the full reputation row. The engine owns all derived
// fields, so the write is a plain replace rather than incremental math.
func (r *ReputationRepository) Save(ctx context.Context, rep *domain.Reputation) error {
	defer observe("reputation_save", time.Now())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reputations (user_id, score, level, vote_weight,
		                         current_streak, longest_streak, last_active_day,
		                         last_active_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			vote_weight = EXCLUDED.vote_weight,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_active_day = EXCLUDED.last_active_day,
			last_active_at = EXCLUDED.last_active_at,
			updated_at = EXCLUDED.updated_at
	`, rep.UserID, rep.Score, rep.Level, rep.VoteWeight,
		rep.Streaks.CurrentStreak, rep.Streaks.LongestStreak, rep.Streaks.LastActiveDay,
		rep.LastActiveAt, rep.UpdatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("reputation_save").Inc()
		return fmt.Errorf("failed to save reputation: %w", err)
	}
	return nil
}

func (r *ReputationRepository) AppendLedger(ctx context.Context, entry *domain.LedgerEntry) error {
	defer observe("ledger_append", time.Now())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reputation_ledger (id, user_id, amount, type, source, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Amount, entry.Type, entry.Source, entry.BalanceAfter, entry.CreatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("ledger_append").Inc()
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *ReputationRepository) ListLedger(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	defer observe("ledger_list", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, type, source, balance_after, created_at
		FROM reputation_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("ledger_list").Inc()
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Source, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *ReputationRepository) ListInactive(ctx context.Context, cutoff time.Time) ([]*domain.Reputation, error) {
	defer observe("reputation_list_inactive", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, score, level, vote_weight,
		       current_streak, longest_streak, last_active_day,
		       last_active_at, updated_at
		FROM reputations
		WHERE last_active_at < $1 AND score > 0
	`, cutoff)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("reputation_list_inactive").Inc()
		return nil, fmt.Errorf("failed to list inactive reputations: %w", err)
	}
	defer rows.Close()

	var reps []*domain.Reputation
	for rows.Next() {
		var rep domain.Reputation
		if err := rows.Scan(
			&rep.UserID, &rep.Score, &rep.Level, &rep.VoteWeight,
			&rep.Streaks.CurrentStreak, &rep.Streaks.LongestStreak, &rep.Streaks.LastActiveDay,
			&rep.LastActiveAt, &rep.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reputation: %w", err)
		}
		reps = append(reps, &rep)
	}
	return reps, rows.Err()
}
