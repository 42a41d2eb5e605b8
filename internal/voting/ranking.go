package voting

import (
	"context"
	"sort"

	"github.com/google/uuid"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"

	"github.com/stagepulse/stagepulse/internal/domain"
)

const maxRunnerUps = 3

// Rank orders submissions for the given voting system: weighted and
// tokenized sessions rank by weightedVoteScore, simple sessions by raw
// vote count. Ties go to the earlier submission. The input slice is not
// modified.
func Rank(subs []*domain.Submission, system domain.VotingSystem) []*domain.Submission {
	ranked := append([]*domain.Submission(nil), subs...)
	byWeight := system == domain.VotingWeighted || system == domain.VotingTokenized

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if byWeight {
			if a.WeightedVoteScore != b.WeightedVoteScore {
				return a.WeightedVoteScore > b.WeightedVoteScore
			}
		} else {
			if a.Votes != b.Votes {
				return a.Votes > b.Votes
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ranked
}

// FinalizeRanking computes the final order of a session's submissions of
// the given kind, marks the winner and up to three runner-ups, and assigns
// each submission its immutable ranking. It returns the ranked list; the
// caller (the stage state machine) owns the surrounding transition.
func (e *Engine) FinalizeRanking(ctx context.Context, session *domain.Session, kind domain.TargetType) ([]*domain.Submission, error) {
	subs, err := e.submissions.ListBySession(ctx, session.ID, kind)
	if err != nil {
		return nil, apperrors.InternalError("failed to list submissions", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	ranked := Rank(subs, session.Settings.VotingSystem)
	for i, sub := range ranked {
		sub.Ranking = i + 1
		switch {
		case i == 0:
			sub.Status = domain.SubmissionWinner
		case i <= maxRunnerUps:
			sub.Status = domain.SubmissionRunnerUp
		}
		if err := e.submissions.Update(ctx, sub); err != nil {
			return nil, apperrors.InternalError("failed to persist ranking", err)
		}
	}
	return ranked, nil
}

// Refinalize is the audit-only path: it rebuilds each submission's vote
// aggregates from the raw vote records (the only place a full rescan is
// allowed) and re-runs ranking. Normal operation never calls this.
func (e *Engine) Refinalize(ctx context.Context, sessionID uuid.UUID, kind domain.TargetType) ([]*domain.Submission, error) {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, apperrors.NotFoundError("session not found").WithContext("sessionId", sessionID.String())
	}

	subs, err := e.submissions.ListBySession(ctx, sessionID, kind)
	if err != nil {
		return nil, apperrors.InternalError("failed to list submissions", err)
	}

	for _, sub := range subs {
		votes, err := e.votes.ListByTarget(ctx, sub.ID, kind)
		if err != nil {
			return nil, apperrors.InternalError("failed to list votes", err)
		}
		sub.Votes = len(votes)
		sub.WeightedVoteScore = 0
		sub.VoterIDs = sub.VoterIDs[:0]
		for _, v := range votes {
			sub.WeightedVoteScore += v.Weight
			sub.VoterIDs = append(sub.VoterIDs, v.UserID)
		}
		if err := e.submissions.Update(ctx, sub); err != nil {
			return nil, apperrors.InternalError("failed to persist audit aggregates", err)
		}
	}

	return e.FinalizeRanking(ctx, session, kind)
}
