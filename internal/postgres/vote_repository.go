package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

// uniqueViolation is the PostgreSQL error code for a unique index conflict.
const uniqueViolation = "23505"

// VoteRepository persists vote records. The unique index on
// (user_id, target_type, target_id) is the double-vote guard: Insert maps
// its violation to domain.ErrDuplicateVote, so concurrent casts for the
// same pair resolve to exactly one success with no read-then-write window.
type VoteRepository struct {
	pool *pgxpool.Pool
}

func NewVoteRepository(pool *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{pool: pool}
}

var _ domain.VoteRepository = (*VoteRepository)(nil)

func (r *VoteRepository) Insert(ctx context.Context, v *domain.Vote) error {
	defer observe("vote_insert", time.Now())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO votes (id, user_id, target_id, target_type, weight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.UserID, v.TargetID, v.TargetType, v.Weight, v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateVote
		}
		metrics.DBErrorsTotal.WithLabelValues("vote_insert").Inc()
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (r *VoteRepository) Get(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) (*domain.Vote, error) {
	defer observe("vote_get", time.Now())

	var v domain.Vote
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, target_id, target_type, weight, created_at
		FROM votes
		WHERE user_id = $1 AND target_id = $2 AND target_type = $3
	`, userID, targetID, targetType).Scan(
		&v.ID, &v.UserID, &v.TargetID, &v.TargetType, &v.Weight, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("vote_get").Inc()
		return nil, fmt.Errorf("failed to load vote: %w", err)
	}
	return &v, nil
}

func (r *VoteRepository) Delete(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) error {
	defer observe("vote_delete", time.Now())

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM votes
		WHERE user_id = $1 AND target_id = $2 AND target_type = $3
	`, userID, targetID, targetType)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("vote_delete").Inc()
		return fmt.Errorf("failed to delete vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *VoteRepository) ListByTarget(ctx context.Context, targetID uuid.UUID, targetType domain.TargetType) ([]*domain.Vote, error) {
	defer observe("vote_list", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, target_id, target_type, weight, created_at
		FROM votes
		WHERE target_id = $1 AND target_type = $2
		ORDER BY created_at
	`, targetID, targetType)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("vote_list").Inc()
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []*domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.UserID, &v.TargetID, &v.TargetType, &v.Weight, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, &v)
	}
	return votes, rows.Err()
}
