package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stagepulse/stagepulse/internal/domain"
)

// RateLimitStore remembers the most recent qualifying event per subject
// key. Entries expire on their own after the retention period, so subjects
// that stop acting cost nothing.
type RateLimitStore struct {
	rdb       *goredis.Client
	retention time.Duration
}

func NewRateLimitStore(client *Client, retention time.Duration) *RateLimitStore {
	return &RateLimitStore{rdb: client.rdb, retention: retention}
}

var _ domain.RateLimitStore = (*RateLimitStore)(nil)

func rateLimitKey(subjectKey string) string {
	return "ratelimit:" + subjectKey
}

func (s *RateLimitStore) LastEvent(ctx context.Context, subjectKey string) (time.Time, error) {
	ms, err := s.rdb.Get(ctx, rateLimitKey(subjectKey)).Int64()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read rate limit entry: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (s *RateLimitStore) SetLastEvent(ctx context.Context, subjectKey string, at time.Time) error {
	err := s.rdb.Set(ctx, rateLimitKey(subjectKey), at.UnixMilli(), s.retention).Err()
	if err != nil {
		return fmt.Errorf("failed to write rate limit entry: %w", err)
	}
	return nil
}
