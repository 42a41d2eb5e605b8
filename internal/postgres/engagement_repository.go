package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

// EngagementRepository persists derived engagement snapshots and the
// highlight timeline. Raw activity events live in Redis; only the
// computed state lands here.
type EngagementRepository struct {
	pool *pgxpool.Pool
}

func NewEngagementRepository(pool *pgxpool.Pool) *EngagementRepository {
	return &EngagementRepository{pool: pool}
}

var _ domain.EngagementRepository = (*EngagementRepository)(nil)

func (r *EngagementRepository) Get(ctx context.Context, sessionID uuid.UUID) (*domain.EngagementSnapshot, error) {
	defer observe("engagement_get", time.Now())

	var (
		snap      domain.EngagementSnapshot
		reactions []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, current_viewers, peak_viewers, hype_level, reactions, updated_at
		FROM engagement_snapshots
		WHERE session_id = $1
	`, sessionID).Scan(
		&snap.SessionID, &snap.CurrentViewers, &snap.PeakViewers,
		&snap.HypeLevel, &reactions, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("engagement_get").Inc()
		return nil, fmt.Errorf("failed to load engagement snapshot: %w", err)
	}
	if err := json.Unmarshal(reactions, &snap.Reactions); err != nil {
		return nil, fmt.Errorf("failed to decode reaction counts: %w", err)
	}
	return &snap, nil
}

func (r *EngagementRepository) Save(ctx context.Context, snap *domain.EngagementSnapshot) error {
	defer observe("engagement_save", time.Now())

	reactions, err := json.Marshal(snap.Reactions)
	if err != nil {
		return fmt.Errorf("failed to encode reaction counts: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO engagement_snapshots (session_id, current_viewers, peak_viewers, hype_level, reactions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			current_viewers = EXCLUDED.current_viewers,
			peak_viewers = EXCLUDED.peak_viewers,
			hype_level = EXCLUDED.hype_level,
			reactions = EXCLUDED.reactions,
			updated_at = EXCLUDED.updated_at
	`, snap.SessionID, snap.CurrentViewers, snap.PeakViewers, snap.HypeLevel, reactions, snap.UpdatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("engagement_save").Inc()
		return fmt.Errorf("failed to save engagement snapshot: %w", err)
	}
	return nil
}

func (r *EngagementRepository) AppendHighlight(ctx context.Context, h *domain.Highlight) error {
	defer observe("highlight_append", time.Now())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO highlights (session_id, hype_level, threshold, at)
		VALUES ($1, $2, $3, $4)
	`, h.SessionID, h.HypeLevel, h.Threshold, h.At)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("highlight_append").Inc()
		return fmt.Errorf("failed to append highlight: %w", err)
	}
	return nil
}

func (r *EngagementRepository) ListHighlights(ctx context.Context, sessionID uuid.UUID) ([]*domain.Highlight, error) {
	defer observe("highlight_list", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT session_id, hype_level, threshold, at
		FROM highlights
		WHERE session_id = $1
		ORDER BY at
	`, sessionID)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("highlight_list").Inc()
		return nil, fmt.Errorf("failed to list highlights: %w", err)
	}
	defer rows.Close()

	var highlights []*domain.Highlight
	for rows.Next() {
		var h domain.Highlight
		if err := rows.Scan(&h.SessionID, &h.HypeLevel, &h.Threshold, &h.At); err != nil {
			return nil, fmt.Errorf("failed to scan highlight: %w", err)
		}
		highlights = append(highlights, &h)
	}
	return highlights, rows.Err()
}
