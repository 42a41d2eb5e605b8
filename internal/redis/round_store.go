package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stagepulse/stagepulse/internal/domain"
)

// roundTTL keeps finished rounds around long enough for late reads; rounds
// never outlive their session by much.
const roundTTL = 24 * time.Hour

// RoundStore keeps ephemeral voting rounds as JSON blobs with an active
// pointer and a latest-number counter per session.
type RoundStore struct {
	rdb *goredis.Client
}

func NewRoundStore(client *Client) *RoundStore {
	return &RoundStore{rdb: client.rdb}
}

var _ domain.RoundStore = (*RoundStore)(nil)

func roundKey(sessionID uuid.UUID, number int) string {
	return "round:" + sessionID.String() + ":" + strconv.Itoa(number)
}

func activeRoundKey(sessionID uuid.UUID) string {
	return "round:active:" + sessionID.String()
}

func latestRoundKey(sessionID uuid.UUID) string {
	return "round:latest:" + sessionID.String()
}

func (s *RoundStore) Get(ctx context.Context, sessionID uuid.UUID, number int) (*domain.VotingRound, error) {
	data, err := s.rdb.Get(ctx, roundKey(sessionID, number)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	var round domain.VotingRound
	if err := json.Unmarshal(data, &round); err != nil {
		return nil, fmt.Errorf("failed to decode round: %w", err)
	}
	return &round, nil
}

func (s *RoundStore) ActiveRound(ctx context.Context, sessionID uuid.UUID) (*domain.VotingRound, error) {
	number, err := s.rdb.Get(ctx, activeRoundKey(sessionID)).Int()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active round pointer: %w", err)
	}
	round, err := s.Get(ctx, sessionID, number)
	if err != nil {
		return nil, err
	}
	if round.Status != domain.RoundActive {
		// stale pointer from an unclean shutdown
		return nil, domain.ErrNotFound
	}
	return round, nil
}

func (s *RoundStore) LatestNumber(ctx context.Context, sessionID uuid.UUID) (int, error) {
	number, err := s.rdb.Get(ctx, latestRoundKey(sessionID)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load latest round number: %w", err)
	}
	return number, nil
}

func (s *RoundStore) Save(ctx context.Context, round *domain.VotingRound) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, roundKey(round.SessionID, round.Number), data, roundTTL)
	if round.Number > 0 {
		pipe.Set(ctx, latestRoundKey(round.SessionID), round.Number, roundTTL)
	}
	if round.Status == domain.RoundActive {
		pipe.Set(ctx, activeRoundKey(round.SessionID), round.Number, roundTTL)
	} else {
		pipe.Del(ctx, activeRoundKey(round.SessionID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}

func (s *RoundStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	latest, err := s.LatestNumber(ctx, sessionID)
	if err != nil {
		return err
	}
	keys := []string{activeRoundKey(sessionID), latestRoundKey(sessionID)}
	for n := 1; n <= latest; n++ {
		keys = append(keys, roundKey(sessionID, n))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session rounds: %w", err)
	}
	return nil
}
