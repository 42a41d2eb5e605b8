package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	slog.Info("Database SSL mode", "sslmode", extractSSLMode(databaseURL))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected", "min_conns", poolCfg.MinConns, "max_conns", poolCfg.MaxConns)
	return pool, nil
}

func extractSSLMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "" {
		return "prefer (default)"
	}
	return mode
}

const (
	// migrationLockID is a PostgreSQL advisory lock ID for coordinating
	// schema setup across instances.
	migrationLockID             = 0x73746167657073
	migrationLockReleaseTimeout = 5 * time.Second
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		host_id UUID NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		stage INT NOT NULL DEFAULT 0,
		previous_status TEXT NOT NULL DEFAULT '',
		live BOOLEAN NOT NULL DEFAULT FALSE,
		settings JSONB NOT NULL DEFAULT '{}',
		results JSONB NOT NULL DEFAULT '{}',
		stats JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_host ON sessions(host_id)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		author_id UUID NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		votes INT NOT NULL DEFAULT 0,
		weighted_vote_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		voter_ids UUID[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		ranking INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_session_kind ON submissions(session_id, kind)`,
	`CREATE TABLE IF NOT EXISTS votes (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		target_id UUID NOT NULL,
		target_type TEXT NOT NULL,
		weight DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_unique ON votes(user_id, target_type, target_id)`,
	`CREATE TABLE IF NOT EXISTS reputations (
		user_id UUID PRIMARY KEY,
		score INT NOT NULL DEFAULT 0,
		level TEXT NOT NULL DEFAULT 'bronze',
		vote_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
		current_streak INT NOT NULL DEFAULT 0,
		longest_streak INT NOT NULL DEFAULT 0,
		last_active_day TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reputations_last_active ON reputations(last_active_at) WHERE score > 0`,
	`CREATE TABLE IF NOT EXISTS reputation_ledger (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		amount INT NOT NULL,
		type TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		balance_after INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_user ON reputation_ledger(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS highlights (
		id BIGSERIAL PRIMARY KEY,
		session_id UUID NOT NULL,
		hype_level INT NOT NULL,
		threshold INT NOT NULL,
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_highlights_session ON highlights(session_id, at)`,
	`CREATE TABLE IF NOT EXISTS engagement_snapshots (
		session_id UUID PRIMARY KEY,
		current_viewers INT NOT NULL DEFAULT 0,
		peak_viewers INT NOT NULL DEFAULT 0,
		hype_level INT NOT NULL DEFAULT 0,
		reactions JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations applies the schema under an advisory lock so concurrent
// instances do not race each other at startup.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), migrationLockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			slog.Error("failed to release migration lock", "error", err)
		}
	}()

	slog.Info("running database migrations")
	for _, migration := range migrations {
		if _, err := conn.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
