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

// SubmissionRepository persists submissions. The vote aggregates move in
// single UPDATE statements, so the counter, the weighted score, and the
// voter set change together or not at all.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

var _ domain.SubmissionRepository = (*SubmissionRepository)(nil)

const submissionColumns = `id, session_id, author_id, kind, content, votes,
	weighted_vote_score, voter_ids, status, ranking, created_at`

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	err := row.Scan(
		&sub.ID, &sub.SessionID, &sub.AuthorID, &sub.Kind, &sub.Content,
		&sub.Votes, &sub.WeightedVoteScore, &sub.VoterIDs, &sub.Status,
		&sub.Ranking, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}
	return &sub, nil
}

func (r *SubmissionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	defer observe("submission_get", time.Now())
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
}

func (r *SubmissionRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, kind domain.TargetType) ([]*domain.Submission, error) {
	defer observe("submission_list", time.Now())

	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE session_id = $1 AND kind = $2
		 ORDER BY created_at`, sessionID, kind)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("submission_list").Inc()
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	defer observe("submission_create", time.Now())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sub.ID, sub.SessionID, sub.AuthorID, sub.Kind, sub.Content, sub.Votes,
		sub.WeightedVoteScore, sub.VoterIDs, sub.Status, sub.Ranking, sub.CreatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("submission_create").Inc()
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepository) Update(ctx context.Context, sub *domain.Submission) error {
	defer observe("submission_update", time.Now())

	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET content = $2, votes = $3, weighted_vote_score = $4, voter_ids = $5,
		    status = $6, ranking = $7
		WHERE id = $1
	`, sub.ID, sub.Content, sub.Votes, sub.WeightedVoteScore, sub.VoterIDs,
		sub.Status, sub.Ranking)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("submission_update").Inc()
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SubmissionRepository) AddVote(ctx context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error {
	defer observe("submission_add_vote", time.Now())

	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET votes = votes + 1,
		    weighted_vote_score = weighted_vote_score + $2,
		    voter_ids = array_append(voter_ids, $3)
		WHERE id = $1
	`, id, weight, userID)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("submission_add_vote").Inc()
		return fmt.Errorf("failed to apply vote aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SubmissionRepository) RemoveVote(ctx context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error {
	defer observe("submission_remove_vote", time.Now())

	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET votes = votes - 1,
		    weighted_vote_score = weighted_vote_score - $2,
		    voter_ids = array_remove(voter_ids, $3)
		WHERE id = $1
	`, id, weight, userID)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("submission_remove_vote").Inc()
		return fmt.Errorf("failed to reverse vote aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
