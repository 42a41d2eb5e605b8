// Package app is the application layer: the only component that wires the
// engines together. HTTP handlers and the websocket hub call into it, never
// into the engines directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/stagepulse/stagepulse/internal/config"
	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
	"github.com/stagepulse/stagepulse/internal/hype"
	"github.com/stagepulse/stagepulse/internal/metrics"
	"github.com/stagepulse/stagepulse/internal/ratelimit"
	"github.com/stagepulse/stagepulse/internal/reputation"
	"github.com/stagepulse/stagepulse/internal/session"
	"github.com/stagepulse/stagepulse/internal/voting"
)

const maxWordLength = 200

// Service orchestrates the session machine, voting, reputation, and hype
// engines behind one API.
type Service struct {
	cfg *config.Config

	sessions    domain.SessionRepository
	submissions domain.SubmissionRepository
	engagement  domain.EngagementRepository
	activity    domain.ActivityStore

	machine    *session.Machine
	voting     *voting.Engine
	reputation *reputation.Engine
	hype       *hype.Calculator
	limiter    *ratelimit.Limiter
	publisher  domain.Publisher
	clock      clockwork.Clock

	liveGroup singleflight.Group
}

func NewService(
	cfg *config.Config,
	sessions domain.SessionRepository,
	submissions domain.SubmissionRepository,
	engagement domain.EngagementRepository,
	activity domain.ActivityStore,
	machine *session.Machine,
	votingEngine *voting.Engine,
	reputationEngine *reputation.Engine,
	hypeCalculator *hype.Calculator,
	limiter *ratelimit.Limiter,
	publisher domain.Publisher,
	clock clockwork.Clock,
) *Service {
	return &Service{
		cfg:         cfg,
		sessions:    sessions,
		submissions: submissions,
		engagement:  engagement,
		activity:    activity,
		machine:     machine,
		voting:      votingEngine,
		reputation:  reputationEngine,
		hype:        hypeCalculator,
		limiter:     limiter,
		publisher:   publisher,
		clock:       clock,
	}
}

// --- Sessions ---

// CreateSession creates a draft session owned by hostID. Zero-valued
// settings fall back to the service defaults.
func (s *Service) CreateSession(ctx context.Context, hostID uuid.UUID, title string, settings domain.SessionSettings) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.ValidationError("title must not be empty")
	}

	if settings.VotingSystem == "" {
		settings.VotingSystem = domain.VotingSimple
	}
	switch settings.VotingSystem {
	case domain.VotingSimple, domain.VotingWeighted, domain.VotingTokenized:
	default:
		return nil, apperrors.ValidationError("unknown voting system").
			WithContext("votingSystem", string(settings.VotingSystem))
	}
	if settings.WeightBudget == 0 {
		settings.WeightBudget = s.cfg.WeightBudget
		settings.HardCapBudget = s.cfg.HardCapBudget
	}
	if settings.RoundDuration == 0 {
		settings.RoundDuration = s.cfg.RoundDuration
	}

	now := s.clock.Now()
	sess := &domain.Session{
		ID:        uuid.New(),
		HostID:    hostID,
		Title:     title,
		Status:    domain.StatusDraft,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, apperrors.InternalError("failed to create session", err)
	}

	slog.Info("Session created", "session_id", sess.ID.String(), "host_id", hostID.String())
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("session not found").
			WithContext("sessionId", sessionID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load session", err)
	}
	return sess, nil
}

// GoLive starts the session and its hype loop. Concurrent activations for
// the same session collapse into one.
func (s *Service) GoLive(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	v, err, _ := s.liveGroup.Do(sessionID.String(), func() (any, error) {
		sess, err := s.machine.Start(ctx, sessionID, callerID)
		if err != nil {
			return nil, err
		}
		s.hype.Start(sessionID)
		metrics.SessionsLive.Inc()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

func (s *Service) AdvanceStage(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	sess, err := s.machine.AdvanceStage(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		s.hype.Stop(sessionID)
		metrics.SessionsLive.Dec()
	}
	return sess, nil
}

func (s *Service) PauseSession(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	return s.machine.Pause(ctx, sessionID, callerID)
}

func (s *Service) ResumeSession(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	return s.machine.Resume(ctx, sessionID, callerID)
}

func (s *Service) EndSession(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	sess, err := s.machine.End(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	s.hype.Stop(sessionID)
	metrics.SessionsLive.Dec()
	return sess, nil
}

func (s *Service) CancelSession(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	sess, err := s.machine.Cancel(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	s.hype.Stop(sessionID)
	metrics.SessionsLive.Dec()
	return sess, nil
}

// --- Submissions ---

// SubmitWord admits a lyric fragment during the lyrics-open stage. The
// submission path is rate limited per user, falling back to the caller's
// network address for anonymous submitters.
func (s *Service) SubmitWord(ctx context.Context, sessionID, userID uuid.UUID, remoteAddr, content string) (*domain.Submission, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ValidationError("submission must not be empty")
	}
	if len(content) > maxWordLength {
		return nil, apperrors.ValidationError("submission too long").
			WithContext("maxLength", maxWordLength)
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusLyricsOpen {
		return nil, apperrors.ConflictError("submissions are closed").
			WithContext("status", string(sess.Status))
	}

	if err := s.checkLimit(ctx, "word", sessionID, userID, remoteAddr, s.cfg.WordSubmitWindowSecs); err != nil {
		return nil, err
	}

	if limit := sess.Settings.SubmissionCap; limit > 0 {
		existing, err := s.submissions.ListBySession(ctx, sessionID, domain.TargetLyrics)
		if err != nil {
			return nil, apperrors.InternalError("failed to count submissions", err)
		}
		if len(existing) >= limit {
			return nil, apperrors.ConflictError("submission cap reached").
				WithContext("cap", limit)
		}
	}

	sub := &domain.Submission{
		ID:        uuid.New(),
		SessionID: sessionID,
		AuthorID:  userID,
		Kind:      domain.TargetLyrics,
		Content:   content,
		Status:    domain.SubmissionPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, apperrors.InternalError("failed to create submission", err)
	}

	s.recordUserActivity(ctx, userID)
	s.publisher.Publish(sessionID.String(), "submission:created", sub)
	return sub, nil
}

// SubmitSong registers a generated song version as a votable submission.
// Host only, generation stage only.
func (s *Service) SubmitSong(ctx context.Context, sessionID, callerID uuid.UUID, content string) (*domain.Submission, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ValidationError("song content must not be empty")
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostID != callerID {
		return nil, apperrors.ForbiddenError("only the host may add song versions")
	}
	if sess.Status != domain.StatusGeneration {
		return nil, apperrors.ConflictError("song versions can only be added during generation").
			WithContext("status", string(sess.Status))
	}

	sub := &domain.Submission{
		ID:        uuid.New(),
		SessionID: sessionID,
		AuthorID:  callerID,
		Kind:      domain.TargetSong,
		Content:   content,
		Status:    domain.SubmissionPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, apperrors.InternalError("failed to create submission", err)
	}

	s.publisher.Publish(sessionID.String(), "submission:created", sub)
	return sub, nil
}

func (s *Service) ListSubmissions(ctx context.Context, sessionID uuid.UUID, kind domain.TargetType) ([]*domain.Submission, error) {
	subs, err := s.submissions.ListBySession(ctx, sessionID, kind)
	if err != nil {
		return nil, apperrors.InternalError("failed to list submissions", err)
	}
	return subs, nil
}

// --- Voting ---

func (s *Service) CastVote(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType, value int) (*domain.Vote, error) {
	vote, err := s.voting.CastVote(ctx, userID, targetID, targetType, value)
	if err != nil {
		return nil, err
	}
	s.recordUserActivity(ctx, userID)
	return vote, nil
}

func (s *Service) RemoveVote(ctx context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) error {
	return s.voting.RemoveVote(ctx, userID, targetID, targetType)
}

// RefinalizeRanking recomputes a session's ranking from the raw vote
// records. Audit path: host only, never part of the normal flow.
func (s *Service) RefinalizeRanking(ctx context.Context, sessionID, callerID uuid.UUID, kind domain.TargetType) ([]*domain.Submission, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return s.voting.Refinalize(ctx, sessionID, kind)
}

// --- Voting rounds ---

func (s *Service) StartRound(ctx context.Context, sessionID, callerID uuid.UUID, question string, options []string) (*domain.VotingRound, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return s.voting.StartRound(ctx, sessionID, question, options)
}

func (s *Service) VoteInRound(ctx context.Context, sessionID, userID uuid.UUID, optionID string) (*domain.VotingRound, error) {
	round, err := s.voting.VoteInRound(ctx, sessionID, userID, optionID)
	if err != nil {
		return nil, err
	}
	s.recordUserActivity(ctx, userID)
	return round, nil
}

func (s *Service) EndRound(ctx context.Context, sessionID, callerID uuid.UUID, number int) (*domain.VotingRound, error) {
	if err := s.requireHost(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return s.voting.EndRound(ctx, sessionID, number)
}

func (s *Service) ActiveRound(ctx context.Context, sessionID uuid.UUID) (*domain.VotingRound, bool, error) {
	return s.voting.ActiveRound(ctx, sessionID)
}

// --- Engagement ingestion ---

// PostChatMessage records one chat message into the activity window.
// Slow mode applies per user, or per address for anonymous chatters.
func (s *Service) PostChatMessage(ctx context.Context, sessionID, userID uuid.UUID, remoteAddr string) error {
	if _, err := s.loadLiveSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.checkLimit(ctx, "chat", sessionID, userID, remoteAddr, s.cfg.ChatSlowModeSeconds); err != nil {
		return err
	}
	if err := s.activity.RecordMessage(ctx, sessionID, s.clock.Now()); err != nil {
		return apperrors.InternalError("failed to record message", err)
	}
	s.recordUserActivity(ctx, userID)
	return nil
}

// React records a typed reaction and reports whether it completed a burst.
func (s *Service) React(ctx context.Context, sessionID, userID uuid.UUID, remoteAddr, reactionType string) (burst bool, err error) {
	reactionType = strings.TrimSpace(reactionType)
	if reactionType == "" {
		return false, apperrors.ValidationError("reaction type must not be empty")
	}

	if _, err := s.loadLiveSession(ctx, sessionID); err != nil {
		return false, err
	}
	if err := s.checkLimit(ctx, "reaction", sessionID, userID, remoteAddr, s.cfg.ReactionCooldownSecs); err != nil {
		return false, err
	}
	if err := s.activity.RecordReaction(ctx, sessionID, reactionType, s.clock.Now()); err != nil {
		return false, apperrors.InternalError("failed to record reaction", err)
	}

	s.bumpReactionCount(ctx, sessionID, reactionType)
	s.recordUserActivity(ctx, userID)

	burst, count, err := s.hype.DetectBurst(ctx, sessionID)
	if err != nil {
		slog.Warn("Burst detection failed", "session_id", sessionID.String(), "error", err)
		return false, nil
	}
	if burst {
		metrics.ReactionBurstsTotal.Inc()
		s.publisher.Publish(sessionID.String(), "reaction:burst", map[string]any{
			"sessionId": sessionID,
			"count":     count,
		})
	}
	return burst, nil
}

// RecordViewerCount stores a viewer-count sample and updates the current
// and peak viewer figures. Called by the fanout hub on join and leave.
func (s *Service) RecordViewerCount(ctx context.Context, sessionID uuid.UUID, count int) {
	now := s.clock.Now()
	if err := s.activity.RecordViewerSample(ctx, sessionID, domain.ViewerSample{Count: count, At: now}); err != nil {
		slog.Warn("Failed to record viewer sample", "session_id", sessionID.String(), "error", err)
	}

	snap, err := s.engagement.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		snap = &domain.EngagementSnapshot{SessionID: sessionID, Reactions: map[string]int{}}
	} else if err != nil {
		slog.Warn("Failed to load engagement snapshot", "session_id", sessionID.String(), "error", err)
		return
	}

	snap.CurrentViewers = count
	if count > snap.PeakViewers {
		snap.PeakViewers = count
	}
	snap.UpdatedAt = now
	if err := s.engagement.Save(ctx, snap); err != nil {
		slog.Warn("Failed to save engagement snapshot", "session_id", sessionID.String(), "error", err)
	}
}

func (s *Service) GetEngagement(ctx context.Context, sessionID uuid.UUID) (*domain.EngagementSnapshot, error) {
	snap, err := s.engagement.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.EngagementSnapshot{SessionID: sessionID, Reactions: map[string]int{}}, nil
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load engagement snapshot", err)
	}
	return snap, nil
}

func (s *Service) ListHighlights(ctx context.Context, sessionID uuid.UUID) ([]*domain.Highlight, error) {
	highlights, err := s.engagement.ListHighlights(ctx, sessionID)
	if err != nil {
		return nil, apperrors.InternalError("failed to list highlights", err)
	}
	return highlights, nil
}

// --- Reputation ---

func (s *Service) GetReputation(ctx context.Context, userID uuid.UUID) (*domain.Reputation, error) {
	return s.reputation.Get(ctx, userID)
}

func (s *Service) GetLedger(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.reputation.Ledger(ctx, userID, limit)
}

// --- Helpers ---

func (s *Service) loadLiveSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Live || !sess.Status.Active() {
		return nil, apperrors.ConflictError("session is not live").
			WithContext("status", string(sess.Status))
	}
	return sess, nil
}

func (s *Service) requireHost(ctx context.Context, sessionID, callerID uuid.UUID) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostID != callerID {
		return apperrors.ForbiddenError("caller is not the session host")
	}
	return nil
}

// checkLimit runs the cooldown gate for one action. Authenticated subjects
// key on their user ID; anonymous ones fall back to the network address.
func (s *Service) checkLimit(ctx context.Context, action string, sessionID, userID uuid.UUID, remoteAddr string, windowSeconds int) error {
	var key string
	if userID != uuid.Nil {
		key = ratelimit.SubjectKey(action, sessionID, userID)
	} else {
		key = ratelimit.AnonSubjectKey(action, sessionID, remoteAddr)
	}

	res, err := s.limiter.Check(ctx, key, windowSeconds)
	if err != nil {
		return apperrors.InternalError("rate limit check failed", err)
	}
	if res.Limited {
		metrics.RateLimitChecksTotal.WithLabelValues(action, "limited").Inc()
		return apperrors.RateLimitedError(fmt.Sprintf("%s cooldown active", action), res.WaitSeconds)
	}
	metrics.RateLimitChecksTotal.WithLabelValues(action, "allowed").Inc()
	return nil
}

// recordUserActivity feeds the streak tracker. Anonymous actions carry no
// user to credit, and a failed streak update never fails the action.
func (s *Service) recordUserActivity(ctx context.Context, userID uuid.UUID) {
	if userID == uuid.Nil {
		return
	}
	if _, err := s.reputation.RecordActivity(ctx, userID); err != nil {
		slog.Warn("Failed to record user activity", "user_id", userID.String(), "error", err)
	}
}

func (s *Service) bumpReactionCount(ctx context.Context, sessionID uuid.UUID, reactionType string) {
	snap, err := s.engagement.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		snap = &domain.EngagementSnapshot{SessionID: sessionID, Reactions: map[string]int{}}
	} else if err != nil {
		slog.Warn("Failed to load engagement snapshot", "session_id", sessionID.String(), "error", err)
		return
	}
	if snap.Reactions == nil {
		snap.Reactions = map[string]int{}
	}
	snap.Reactions[reactionType]++
	snap.UpdatedAt = s.clock.Now()
	if err := s.engagement.Save(ctx, snap); err != nil {
		slog.Warn("Failed to save engagement snapshot", "session_id", sessionID.String(), "error", err)
	}
}
