package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stagepulse/stagepulse/internal/domain"
)

// ActivityStore keeps per-session engagement events in sorted sets scored
// by their unix-millisecond timestamp, so trailing-window counts are a
// single ZCOUNT. Events older than the retention horizon are pruned on
// every write.
type ActivityStore struct {
	rdb       *goredis.Client
	retention time.Duration
}

func NewActivityStore(client *Client, retention time.Duration) *ActivityStore {
	return &ActivityStore{rdb: client.rdb, retention: retention}
}

var _ domain.ActivityStore = (*ActivityStore)(nil)

func messagesKey(sessionID uuid.UUID) string {
	return "activity:messages:" + sessionID.String()
}

func reactionsKey(sessionID uuid.UUID) string {
	return "activity:reactions:" + sessionID.String()
}

func viewersKey(sessionID uuid.UUID) string {
	return "activity:viewers:" + sessionID.String()
}

func (s *ActivityStore) RecordMessage(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return s.record(ctx, messagesKey(sessionID), at, "")
}

func (s *ActivityStore) RecordReaction(ctx context.Context, sessionID uuid.UUID, reactionType string, at time.Time) error {
	return s.record(ctx, reactionsKey(sessionID), at, reactionType)
}

// record appends one event. The member carries the timestamp plus a nonce
// so two events in the same millisecond stay distinct set members.
func (s *ActivityStore) record(ctx context.Context, key string, at time.Time, suffix string) error {
	member := strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()
	if suffix != "" {
		member += ":" + suffix
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(at.Add(-s.retention).UnixMilli(), 10))
	pipe.Expire(ctx, key, s.retention*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record activity event: %w", err)
	}
	return nil
}

func (s *ActivityStore) CountMessages(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	return s.count(ctx, messagesKey(sessionID), since)
}

func (s *ActivityStore) CountReactions(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	return s.count(ctx, reactionsKey(sessionID), since)
}

func (s *ActivityStore) count(ctx context.Context, key string, since time.Time) (int, error) {
	n, err := s.rdb.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return int(n), nil
}

func (s *ActivityStore) RecordViewerSample(ctx context.Context, sessionID uuid.UUID, sample domain.ViewerSample) error {
	key := viewersKey(sessionID)
	member := strconv.FormatInt(sample.At.UnixMilli(), 10) + ":" + strconv.Itoa(sample.Count)

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(sample.At.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(sample.At.Add(-s.retention).UnixMilli(), 10))
	pipe.Expire(ctx, key, s.retention*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record viewer sample: %w", err)
	}
	return nil
}

func (s *ActivityStore) ViewerSamples(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]domain.ViewerSample, error) {
	members, err := s.rdb.ZRangeByScoreWithScores(ctx, viewersKey(sessionID), &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer samples: %w", err)
	}

	samples := make([]domain.ViewerSample, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		sample, ok := parseViewerSample(member, int64(z.Score))
		if !ok {
			continue // corrupt member, skip rather than fail the window
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func parseViewerSample(member string, scoreMs int64) (domain.ViewerSample, bool) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == ':' {
			count, err := strconv.Atoi(member[i+1:])
			if err != nil {
				return domain.ViewerSample{}, false
			}
			return domain.ViewerSample{Count: count, At: time.UnixMilli(scoreMs)}, true
		}
	}
	return domain.ViewerSample{}, false
}

func (s *ActivityStore) Purge(ctx context.Context, sessionID uuid.UUID) error {
	keys := []string{messagesKey(sessionID), reactionsKey(sessionID), viewersKey(sessionID)}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge session activity: %w", err)
	}
	return nil
}
