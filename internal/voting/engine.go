// Package voting records votes, maintains submission vote aggregates, and
// produces the deterministic ranking consumed at stage finalization.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

// WeightSource provides the reputation-derived vote weight for a user.
type WeightSource interface {
	VoteWeightFor(ctx context.Context, userID uuid.UUID) (float64, error)
}

// Engine is the voting and ranking engine.
type Engine struct {
	sessions    domain.SessionRepository
	submissions domain.SubmissionRepository
	votes       domain.VoteRepository
	rounds      domain.RoundStore
	budgets     domain.BudgetStore
	weights     WeightSource
	publisher   domain.Publisher
	clock       clockwork.Clock
	autoEnd     *autoEndTimers

	roundMu    sync.Mutex
	roundLocks map[uuid.UUID]*sync.Mutex
}

func NewEngine(
	sessions domain.SessionRepository,
	submissions domain.SubmissionRepository,
	votes domain.VoteRepository,
	rounds domain.RoundStore,
	budgets domain.BudgetStore,
	weights WeightSource,
	publisher domain.Publisher,
	clock clockwork.Clock,
) *Engine {
	return &Engine{
		sessions:    sessions,
		submissions: submissions,
		votes:       votes,
		rounds:      rounds,
		budgets:     budgets,
		weights:     weights,
		publisher:   publisher,
		clock:       clock,
		autoEnd:     newAutoEndTimers(),
		roundLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// roundLockFor serializes round mutations per session, so concurrent starts
// cannot both pass the single-active check and mint the same round number.
func (e *Engine) roundLockFor(sessionID uuid.UUID) *sync.Mutex {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	if l, ok := e.roundLocks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.roundLocks[sessionID] = l
	return l
}

// votingStatusFor maps a target type to the only session status in which
// votes on that target are admitted.
func votingStatusFor(targetType domain.TargetType) (domain.SessionStatus, error) {
	switch targetType {
	case domain.TargetLyrics:
		return domain.StatusLyricsVoting, nil
	case domain.TargetSong:
		return domain.StatusSongVoting, nil
	default:
		return "", apperrors.ValidationError("unknown target type").WithContext("targetType", string(targetType))
	}
}

// CastVote records one vote for userID on the given target. The vote's
// weight is fixed by the session's voting system and snapshotted on the
// record; uniqueness on (user, targetType, targetId) is enforced by the
// vote store's conditional insert, not by a read-then-write check.
func (e *Engine) CastVote(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType, value int) (*domain.Vote, error) {
	start := time.Now()

	sub, err := e.submissions.Get(ctx, targetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("submission not found").WithContext("targetId", targetID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load submission", err)
	}

	session, err := e.sessions.Get(ctx, sub.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("session not found").WithContext("sessionId", sub.SessionID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load session", err)
	}

	required, verr := votingStatusFor(targetType)
	if verr != nil {
		return nil, verr
	}
	if session.Status != required {
		return nil, apperrors.ConflictError("session does not accept votes on this target").
			WithContext("required", string(required)).
			WithContext("actual", string(session.Status))
	}

	weight, spend, err := e.voteWeight(ctx, session, userID, value)
	if err != nil {
		return nil, err
	}

	vote := &domain.Vote{
		ID:         uuid.New(),
		UserID:     userID,
		TargetID:   targetID,
		TargetType: targetType,
		Weight:     weight,
		CreatedAt:  e.clock.Now(),
	}

	if err := e.votes.Insert(ctx, vote); err != nil {
		if errors.Is(err, domain.ErrDuplicateVote) {
			metrics.VotesTotal.WithLabelValues("duplicate").Inc()
			return nil, apperrors.ConflictError("already voted on this target").
				WithContext("targetId", targetID.String())
		}
		metrics.VotesTotal.WithLabelValues("error").Inc()
		return nil, apperrors.InternalError("failed to record vote", err)
	}

	if err := e.submissions.AddVote(ctx, targetID, userID, weight); err != nil {
		return nil, apperrors.InternalError("failed to apply vote to submission", err)
	}

	if spend > 0 {
		if err := e.budgets.AddSpent(ctx, session.ID, userID, spend); err != nil {
			return nil, apperrors.InternalError("failed to record vote spend", err)
		}
	}

	e.publisher.Publish(session.ID.String(), "vote:cast", map[string]any{
		"targetId":   targetID.String(),
		"targetType": string(targetType),
		"weight":     weight,
	})

	metrics.VotesTotal.WithLabelValues("cast").Inc()
	metrics.VoteProcessingDuration.Observe(time.Since(start).Seconds())
	slog.Debug("Vote cast",
		"session_id", session.ID.String(),
		"user_id", userID.String(),
		"target_id", targetID.String(),
		"weight", weight,
	)
	return vote, nil
}

// voteWeight resolves the weight and budget spend for a vote under the
// session's voting system.
func (e *Engine) voteWeight(ctx context.Context, session *domain.Session, userID uuid.UUID, value int) (weight float64, spend int, err error) {
	switch session.Settings.VotingSystem {
	case domain.VotingSimple:
		return 1, 0, nil

	case domain.VotingWeighted:
		if value < 1 {
			return 0, 0, apperrors.ValidationError("vote weight must be at least 1")
		}
		remaining, err := e.remainingBudget(ctx, session, userID)
		if err != nil {
			return 0, 0, err
		}
		if value > remaining {
			if session.Settings.HardCapBudget {
				return 0, 0, apperrors.ConflictError("vote weight exceeds remaining budget").
					WithContext("remaining", remaining)
			}
			value = remaining
		}
		if value < 1 {
			return 0, 0, apperrors.ConflictError("vote weight budget exhausted")
		}
		return float64(value), value, nil

	case domain.VotingTokenized:
		if value < 0 {
			return 0, 0, apperrors.ValidationError("token amount cannot be negative")
		}
		remaining, err := e.remainingBudget(ctx, session, userID)
		if err != nil {
			return 0, 0, err
		}
		if value > remaining {
			return 0, 0, apperrors.ConflictError("token amount exceeds remaining balance").
				WithContext("remaining", remaining)
		}
		return float64(value), value, nil

	default:
		return 0, 0, apperrors.ValidationError("unknown voting system").
			WithContext("votingSystem", string(session.Settings.VotingSystem))
	}
}

// remainingBudget is the session's configured budget scaled by the caster's
// reputation vote weight, minus what they have already spent here.
func (e *Engine) remainingBudget(ctx context.Context, session *domain.Session, userID uuid.UUID) (int, error) {
	voteWeight, err := e.weights.VoteWeightFor(ctx, userID)
	if err != nil {
		return 0, apperrors.InternalError("failed to resolve vote weight", err)
	}
	multiplier := int(math.Floor(voteWeight))
	if multiplier < 1 {
		multiplier = 1
	}
	total := session.Settings.WeightBudget * multiplier

	spent, err := e.budgets.Spent(ctx, session.ID, userID)
	if err != nil {
		return 0, apperrors.InternalError("failed to read vote spend", err)
	}
	remaining := total - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RemoveVote is the exact inverse of CastVote: it requires the vote to
// exist, deletes it, reverses the submission aggregates with the recorded
// weight, and refunds any budget spend.
func (e *Engine) RemoveVote(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) error {
	vote, err := e.votes.Get(ctx, userID, targetID, targetType)
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NotFoundError("no vote to remove").WithContext("targetId", targetID.String())
	}
	if err != nil {
		return apperrors.InternalError("failed to load vote", err)
	}

	sub, err := e.submissions.Get(ctx, targetID)
	if err != nil {
		return apperrors.InternalError("failed to load submission", err)
	}

	if err := e.votes.Delete(ctx, userID, targetID, targetType); err != nil {
		return apperrors.InternalError("failed to delete vote", err)
	}
	if err := e.submissions.RemoveVote(ctx, targetID, userID, vote.Weight); err != nil {
		return apperrors.InternalError("failed to reverse submission aggregates", err)
	}

	session, err := e.sessions.Get(ctx, sub.SessionID)
	if err == nil && session.Settings.VotingSystem != domain.VotingSimple {
		if err := e.budgets.AddSpent(ctx, session.ID, userID, -int(vote.Weight)); err != nil {
			return apperrors.InternalError("failed to refund vote spend", err)
		}
	}

	metrics.VotesTotal.WithLabelValues("removed").Inc()
	e.publisher.Publish(sub.SessionID.String(), "vote:removed", map[string]any{
		"targetId":   targetID.String(),
		"targetType": string(targetType),
	})
	return nil
}

// HasVoted reports whether the user holds a vote on the target.
func (e *Engine) HasVoted(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) (bool, error) {
	_, err := e.votes.Get(ctx, userID, targetID, targetType)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup vote: %w", err)
	}
	return true, nil
}
