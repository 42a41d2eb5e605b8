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

// SessionRepository persists sessions. Settings, results, and stats live
// as JSONB blobs: the engine reads and writes them whole, never queries
// into them.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	defer observe("session_get", time.Now())

	var (
		s                         domain.Session
		settings, results, stats  []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, host_id, title, status, stage, previous_status, live,
		       settings, results, stats, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.HostID, &s.Title, &s.Status, &s.Stage, &s.PreviousStatus,
		&s.Live, &settings, &results, &stats, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("session_get").Inc()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode session settings: %w", err)
	}
	if err := json.Unmarshal(results, &s.Results); err != nil {
		return nil, fmt.Errorf("failed to decode session results: %w", err)
	}
	if err := json.Unmarshal(stats, &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode session stats: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	defer observe("session_create", time.Now())

	settings, results, stats, err := encodeSessionBlobs(s)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (id, host_id, title, status, stage, previous_status, live,
		                      settings, results, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.ID, s.HostID, s.Title, s.Status, s.Stage, s.PreviousStatus, s.Live,
		settings, results, stats, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("session_create").Inc()
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.Session) error {
	defer observe("session_update", time.Now())

	settings, results, stats, err := encodeSessionBlobs(s)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $2, stage = $3, previous_status = $4, live = $5,
		    settings = $6, results = $7, stats = $8, updated_at = $9
		WHERE id = $1
	`, s.ID, s.Status, s.Stage, s.PreviousStatus, s.Live,
		settings, results, stats, s.UpdatedAt)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("session_update").Inc()
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func encodeSessionBlobs(s *domain.Session) (settings, results, stats []byte, err error) {
	if settings, err = json.Marshal(s.Settings); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode session settings: %w", err)
	}
	if results, err = json.Marshal(s.Results); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode session results: %w", err)
	}
	if stats, err = json.Marshal(s.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode session stats: %w", err)
	}
	return settings, results, stats, nil
}

func observe(query string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
