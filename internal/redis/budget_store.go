package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stagepulse/stagepulse/internal/domain"
)

// BudgetStore tracks per-(session, user) vote budget spend in a hash per
// session. HIncrBy keeps the increment atomic under concurrent casts.
type BudgetStore struct {
	rdb *goredis.Client
}

func NewBudgetStore(client *Client) *BudgetStore {
	return &BudgetStore{rdb: client.rdb}
}

var _ domain.BudgetStore = (*BudgetStore)(nil)

func budgetKey(sessionID uuid.UUID) string {
	return "budget:" + sessionID.String()
}

func (s *BudgetStore) Spent(ctx context.Context, sessionID, userID uuid.UUID) (int, error) {
	spent, err := s.rdb.HGet(ctx, budgetKey(sessionID), userID.String()).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read budget spend: %w", err)
	}
	return spent, nil
}

func (s *BudgetStore) AddSpent(ctx context.Context, sessionID, userID uuid.UUID, amount int) error {
	key := budgetKey(sessionID)
	spent, err := s.rdb.HIncrBy(ctx, key, userID.String(), int64(amount)).Result()
	if err != nil {
		return fmt.Errorf("failed to update budget spend: %w", err)
	}
	// refunds larger than the recorded spend clamp to zero
	if spent < 0 {
		if err := s.rdb.HSet(ctx, key, userID.String(), 0).Err(); err != nil {
			return fmt.Errorf("failed to clamp budget spend: %w", err)
		}
	}
	return nil
}
