package hype

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
	"github.com/stagepulse/stagepulse/internal/logging"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

const (
	// metric windows are fixed by the scoring model, not configuration
	activityWindow = 60 * time.Second
	trendWindow    = 120 * time.Second

	// blend weights for the four normalized metrics
	weightMessages  = 0.30
	weightReactions = 0.35
	weightVoting    = 0.20
	weightTrend     = 0.15

	// minDelta suppresses sub-threshold hype updates to avoid broadcast noise
	minDelta = 2

	milestoneHigh = 80
	milestoneMax  = 100
)

// Calculator derives the live hype score for sessions. Each live session
// gets its own loop goroutine that recomputes on a fixed interval and stops
// as soon as the session leaves live status.
type Calculator struct {
	sessions   domain.SessionRepository
	activity   domain.ActivityStore
	engagement domain.EngagementRepository
	rounds     domain.RoundStore
	publisher  domain.Publisher
	clock      clockwork.Clock

	interval       time.Duration
	burstWindow    time.Duration
	burstThreshold int

	mu    sync.Mutex
	loops map[uuid.UUID]chan struct{}
}

func NewCalculator(
	sessions domain.SessionRepository,
	activity domain.ActivityStore,
	engagement domain.EngagementRepository,
	rounds domain.RoundStore,
	publisher domain.Publisher,
	clock clockwork.Clock,
	interval time.Duration,
	burstWindow time.Duration,
	burstThreshold int,
) *Calculator {
	return &Calculator{
		sessions:       sessions,
		activity:       activity,
		engagement:     engagement,
		rounds:         rounds,
		publisher:      publisher,
		clock:          clock,
		interval:       interval,
		burstWindow:    burstWindow,
		burstThreshold: burstThreshold,
		loops:          make(map[uuid.UUID]chan struct{}),
	}
}

// Start begins the periodic hype loop for a session. Starting an already
// running loop is a no-op.
func (c *Calculator) Start(sessionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.loops[sessionID]; running {
		return
	}
	stop := make(chan struct{})
	c.loops[sessionID] = stop
	metrics.HypeLoopsActive.Set(float64(len(c.loops)))
	go c.run(sessionID, stop)
	slog.Info("Hype loop started", "session_id", sessionID.String())
}

// Stop halts the session's loop and discards its accumulated activity,
// including viewer trend history, so a restarted session starts clean.
func (c *Calculator) Stop(sessionID uuid.UUID) {
	c.mu.Lock()
	stop, running := c.loops[sessionID]
	if running {
		delete(c.loops, sessionID)
		close(stop)
		metrics.HypeLoopsActive.Set(float64(len(c.loops)))
	}
	c.mu.Unlock()
	if !running {
		return
	}
	if err := c.activity.Purge(context.Background(), sessionID); err != nil {
		slog.Error("Failed to purge session activity", "session_id", sessionID.String(), "error", err)
	}
	slog.Info("Hype loop stopped", "session_id", sessionID.String())
}

// StopAll halts every running loop. Used on shutdown.
func (c *Calculator) StopAll() {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.loops))
	for id := range c.loops {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Stop(id)
	}
}

func (c *Calculator) run(sessionID uuid.UUID, stop chan struct{}) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			ctx = logging.WithRequestID(ctx, logging.NewRequestID())
			live, err := c.sessionLive(ctx, sessionID)
			if err != nil {
				slog.ErrorContext(ctx, "Hype tick failed to load session", "session_id", sessionID.String(), "error", err)
				cancel()
				continue
			}
			if !live {
				cancel()
				go c.Stop(sessionID)
				return
			}
			if _, _, err := c.Tick(ctx, sessionID); err != nil {
				slog.ErrorContext(ctx, "Hype tick failed", "session_id", sessionID.String(), "error", err)
			}
			cancel()
		}
	}
}

func (c *Calculator) sessionLive(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	session, err := c.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.Live && session.Status.Active(), nil
}

// Tick recomputes the session's hype level once. The new level is stored
// and broadcast only when it moves by at least two points; milestone
// highlights fire once per upward crossing of 80 and of 100. Tick only
// reads activity and writes derived state, so it is safe to run while
// chat and reaction writes are in flight.
func (c *Calculator) Tick(ctx context.Context, sessionID uuid.UUID) (int, bool, error) {
	snap, err := c.snapshot(ctx, sessionID)
	if err != nil {
		metrics.HypeTicksTotal.WithLabelValues("error").Inc()
		return 0, false, err
	}

	level, err := c.computeLevel(ctx, sessionID, snap.CurrentViewers)
	if err != nil {
		metrics.HypeTicksTotal.WithLabelValues("error").Inc()
		return 0, false, err
	}

	previous := snap.HypeLevel
	if abs(level-previous) < minDelta {
		metrics.HypeTicksTotal.WithLabelValues("suppressed").Inc()
		return previous, false, nil
	}

	snap.HypeLevel = level
	snap.UpdatedAt = c.clock.Now()
	if err := c.engagement.Save(ctx, snap); err != nil {
		metrics.HypeTicksTotal.WithLabelValues("error").Inc()
		return 0, false, apperrors.InternalError("failed to save engagement snapshot", err)
	}
	metrics.HypeTicksTotal.WithLabelValues("updated").Inc()

	c.publisher.Publish(sessionID.String(), "hype:update", map[string]any{
		"hypeLevel": level,
	})

	for _, threshold := range []int{milestoneHigh, milestoneMax} {
		if previous < threshold && level >= threshold {
			c.fireMilestone(ctx, sessionID, level, threshold)
		}
	}
	return level, true, nil
}

func (c *Calculator) snapshot(ctx context.Context, sessionID uuid.UUID) (*domain.EngagementSnapshot, error) {
	snap, err := c.engagement.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.EngagementSnapshot{
			SessionID: sessionID,
			Reactions: make(map[string]int),
		}, nil
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load engagement snapshot", err)
	}
	return snap, nil
}

// computeLevel blends the four normalized trailing-window metrics into a
// 0-100 score.
func (c *Calculator) computeLevel(ctx context.Context, sessionID uuid.UUID, viewers int) (int, error) {
	now := c.clock.Now()

	messages, err := c.activity.CountMessages(ctx, sessionID, now.Add(-activityWindow))
	if err != nil {
		return 0, apperrors.InternalError("failed to count messages", err)
	}
	reactions, err := c.activity.CountReactions(ctx, sessionID, now.Add(-activityWindow))
	if err != nil {
		return 0, apperrors.InternalError("failed to count reactions", err)
	}
	participation, err := c.votingParticipation(ctx, sessionID, viewers)
	if err != nil {
		return 0, err
	}
	trend, err := c.viewerTrend(ctx, sessionID, now)
	if err != nil {
		return 0, err
	}

	perMinute := float64(time.Minute) / float64(activityWindow)
	score := weightMessages*messageCurve.normalize(float64(messages)*perMinute) +
		weightReactions*reactionCurve.normalize(float64(reactions)*perMinute) +
		weightVoting*votingCurve.normalize(participation) +
		weightTrend*normalizeTrend(trend)

	level := int(math.Round(score))
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return level, nil
}

// votingParticipation is the active round's voter count relative to the
// current viewers, or 0 when no round is active or nobody is watching.
func (c *Calculator) votingParticipation(ctx context.Context, sessionID uuid.UUID, viewers int) (float64, error) {
	if viewers <= 0 {
		return 0, nil
	}
	round, err := c.rounds.ActiveRound(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.InternalError("failed to load active round", err)
	}
	return float64(len(round.VoterIDs)) / float64(viewers), nil
}

// viewerTrend splits the trailing trend window's viewer samples into first
// and second halves and returns their relative change, clamped to [-1, 1].
func (c *Calculator) viewerTrend(ctx context.Context, sessionID uuid.UUID, now time.Time) (float64, error) {
	samples, err := c.activity.ViewerSamples(ctx, sessionID, now.Add(-trendWindow))
	if err != nil {
		return 0, apperrors.InternalError("failed to load viewer samples", err)
	}
	if len(samples) < 2 {
		return 0, nil
	}

	midpoint := now.Add(-trendWindow / 2)
	var firstSum, firstN, secondSum, secondN float64
	for _, s := range samples {
		if s.At.Before(midpoint) {
			firstSum += float64(s.Count)
			firstN++
		} else {
			secondSum += float64(s.Count)
			secondN++
		}
	}
	if firstN == 0 || secondN == 0 || firstSum == 0 {
		return 0, nil
	}

	change := (secondSum/secondN - firstSum/firstN) / (firstSum / firstN)
	if change < -1 {
		change = -1
	}
	if change > 1 {
		change = 1
	}
	return change, nil
}

func (c *Calculator) fireMilestone(ctx context.Context, sessionID uuid.UUID, level, threshold int) {
	highlight := &domain.Highlight{
		SessionID: sessionID,
		HypeLevel: level,
		Threshold: threshold,
		At:        c.clock.Now(),
	}
	if err := c.engagement.AppendHighlight(ctx, highlight); err != nil {
		slog.Error("Failed to append highlight", "session_id", sessionID.String(), "error", err)
		return
	}
	metrics.HypeMilestonesTotal.WithLabelValues(strconv.Itoa(threshold)).Inc()
	c.publisher.Publish(sessionID.String(), "hype:milestone", map[string]any{
		"threshold": threshold,
		"hypeLevel": level,
	})
	slog.Info("Hype milestone reached",
		"session_id", sessionID.String(),
		"threshold", threshold,
		"hype_level", level,
	)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
