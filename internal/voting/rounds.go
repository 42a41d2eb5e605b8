package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

const defaultRoundDuration = 60 * time.Second

// StartRound opens a new ephemeral election inside a live session. At most
// one round may be active per session; starting a second one fails with a
// conflict. The round auto-ends after its duration via a scheduled check
// keyed by (session, round number).
func (e *Engine) StartRound(ctx context.Context, sessionID uuid.UUID, question string, optionLabels []string) (*domain.VotingRound, error) {
	if len(optionLabels) < 2 {
		return nil, apperrors.ValidationError("a round needs at least two options")
	}

	lock := e.roundLockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("session not found").WithContext("sessionId", sessionID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load session", err)
	}
	if !session.Status.Active() {
		return nil, apperrors.ConflictError("session is not active").
			WithContext("actual", string(session.Status))
	}

	if _, err := e.rounds.ActiveRound(ctx, sessionID); err == nil {
		return nil, apperrors.ConflictError("a round is already active")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.InternalError("failed to check active round", err)
	}

	latest, err := e.rounds.LatestNumber(ctx, sessionID)
	if err != nil {
		return nil, apperrors.InternalError("failed to number round", err)
	}

	duration := session.Settings.RoundDuration
	if duration <= 0 {
		duration = defaultRoundDuration
	}

	now := e.clock.Now()
	options := make([]domain.RoundOption, len(optionLabels))
	for i, label := range optionLabels {
		options[i] = domain.RoundOption{ID: fmt.Sprintf("opt-%d", i+1), Label: label}
	}

	round := &domain.VotingRound{
		ID:        uuid.New(),
		SessionID: sessionID,
		Number:    latest + 1,
		Question:  question,
		Options:   options,
		Status:    domain.RoundActive,
		StartedAt: now,
		EndsAt:    now.Add(duration),
	}
	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, apperrors.InternalError("failed to save round", err)
	}

	e.scheduleAutoEnd(sessionID, round.Number, duration)

	metrics.VotingRoundsTotal.WithLabelValues("started").Inc()
	e.publisher.Publish(sessionID.String(), "round:started", round)
	slog.Info("Voting round started",
		"session_id", sessionID.String(),
		"round", round.Number,
		"ends_at", round.EndsAt,
	)
	return round, nil
}

// VoteInRound records one vote per user per round.
func (e *Engine) VoteInRound(ctx context.Context, sessionID, userID uuid.UUID, optionID string) (*domain.VotingRound, error) {
	lock := e.roundLockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	round, err := e.rounds.ActiveRound(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("no active round").WithContext("sessionId", sessionID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load round", err)
	}

	for _, voter := range round.VoterIDs {
		if voter == userID {
			return nil, apperrors.ConflictError("already voted in this round").
				WithContext("round", round.Number)
		}
	}

	matched := false
	for i := range round.Options {
		if round.Options[i].ID == optionID {
			round.Options[i].Votes++
			matched = true
			break
		}
	}
	if !matched {
		return nil, apperrors.ValidationError("unknown vote option").WithContext("optionId", optionID)
	}

	round.VoterIDs = append(round.VoterIDs, userID)
	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, apperrors.InternalError("failed to save round vote", err)
	}

	e.publisher.Publish(sessionID.String(), "round:vote", map[string]any{
		"round":    round.Number,
		"optionId": optionID,
	})
	return round, nil
}

// EndRound closes a round and declares its winner. Ending an already-ended
// round is a no-op, which makes duplicate timers and restart recovery safe.
func (e *Engine) EndRound(ctx context.Context, sessionID uuid.UUID, number int) (*domain.VotingRound, error) {
	lock := e.roundLockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	round, err := e.rounds.Get(ctx, sessionID, number)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("round not found").
			WithContext("sessionId", sessionID.String()).
			WithContext("round", number)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load round", err)
	}

	if round.Status == domain.RoundEnded {
		return round, nil
	}

	// First-declared option wins ties: strictly-greater comparison over
	// declaration order.
	winner := round.Options[0]
	for _, opt := range round.Options[1:] {
		if opt.Votes > winner.Votes {
			winner = opt
		}
	}

	round.Status = domain.RoundEnded
	round.WinnerOptionID = winner.ID
	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, apperrors.InternalError("failed to end round", err)
	}

	e.cancelAutoEnd(sessionID, number)

	metrics.VotingRoundsTotal.WithLabelValues("ended").Inc()
	e.publisher.Publish(sessionID.String(), "round:ended", round)
	slog.Info("Voting round ended",
		"session_id", sessionID.String(),
		"round", round.Number,
		"winner", winner.ID,
		"votes", winner.Votes,
	)
	return round, nil
}

// ActiveRound returns the session's currently active round, if any.
func (e *Engine) ActiveRound(ctx context.Context, sessionID uuid.UUID) (*domain.VotingRound, bool, error) {
	round, err := e.rounds.ActiveRound(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return round, true, nil
}
