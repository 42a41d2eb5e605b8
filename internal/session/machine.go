package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
	"github.com/stagepulse/stagepulse/internal/metrics"
	"github.com/stagepulse/stagepulse/internal/reputation"
)

// Ranker finalizes the submission order for one target kind. Satisfied by
// the voting engine.
type Ranker interface {
	FinalizeRanking(ctx context.Context, session *domain.Session, kind domain.TargetType) ([]*domain.Submission, error)
}

// Crediter pays out reputation bonuses. Satisfied by the reputation engine.
type Crediter interface {
	AddReputation(ctx context.Context, userID uuid.UUID, amount int, txType domain.TransactionType, source string) (*domain.Reputation, error)
}

// Machine owns every session lifecycle transition. Transitions serialize per
// session so a session is never mid-transition from two callers at once.
type Machine struct {
	sessions  domain.SessionRepository
	ranker    Ranker
	crediter  Crediter
	publisher domain.Publisher
	clock     clockwork.Clock

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewMachine(sessions domain.SessionRepository, ranker Ranker, crediter Crediter, publisher domain.Publisher, clock clockwork.Clock) *Machine {
	return &Machine{
		sessions:  sessions,
		ranker:    ranker,
		crediter:  crediter,
		publisher: publisher,
		clock:     clock,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Machine) lockFor(sessionID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[sessionID] = l
	return l
}

// releaseLock drops the per-session mutex once the session is terminal.
func (m *Machine) releaseLock(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

func (m *Machine) load(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("session not found").WithContext("sessionId", sessionID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load session", err)
	}
	if session.HostID != callerID {
		return nil, apperrors.ForbiddenError("only the host can control the session")
	}
	return session, nil
}

func transitionConflict(required string, actual domain.SessionStatus) *apperrors.Error {
	metrics.StageTransitionsTotal.WithLabelValues(string(actual), "conflict").Inc()
	return apperrors.ConflictError("invalid state transition").
		WithContext("required", required).
		WithContext("actual", string(actual))
}

func transitionOK(status domain.SessionStatus) {
	metrics.StageTransitionsTotal.WithLabelValues(string(status), "ok").Inc()
}

// Start moves a session from draft into its first working stage.
func (m *Machine) Start(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusDraft && session.Status != domain.StatusPaused {
		return nil, transitionConflict("draft or paused", session.Status)
	}

	session.Status = domain.StatusLyricsOpen
	session.Stage = domain.StatusLyricsOpen.Stage()
	session.PreviousStatus = ""
	session.Live = true
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:started", session)
	slog.Info("Session started", "session_id", session.ID.String())
	return session, nil
}

// stageOrder is the forward path of advanceStage. Paused and terminal
// states are handled separately.
var stageOrder = map[domain.SessionStatus]domain.SessionStatus{
	domain.StatusDraft:        domain.StatusLyricsOpen,
	domain.StatusLyricsOpen:   domain.StatusLyricsVoting,
	domain.StatusLyricsVoting: domain.StatusGeneration,
	domain.StatusGeneration:   domain.StatusSongVoting,
	domain.StatusSongVoting:   domain.StatusCompleted,
}

// AdvanceStage moves the session one step forward. Leaving a voting stage
// finalizes the ranking first and, for the lyrics vote, pays the winning
// author their bonus; both happen before the stage changes so a read right
// after AdvanceStage sees a consistent winner and stage together.
func (m *Machine) AdvanceStage(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	next, ok := stageOrder[session.Status]
	if !ok {
		return nil, transitionConflict("an advanceable stage", session.Status)
	}

	switch session.Status {
	case domain.StatusLyricsVoting:
		if err := m.finalizeLyrics(ctx, session); err != nil {
			return nil, err
		}
	case domain.StatusSongVoting:
		if _, err := m.ranker.FinalizeRanking(ctx, session, domain.TargetSong); err != nil {
			return nil, err
		}
	}

	session.Status = next
	session.Stage = next.Stage()
	if next == domain.StatusCompleted {
		session.Live = false
	}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:stage", map[string]any{
		"stage":  session.Stage,
		"status": session.Status,
	})
	slog.Info("Session stage advanced",
		"session_id", session.ID.String(),
		"status", string(session.Status),
		"stage", session.Stage,
	)
	if session.Status.Terminal() {
		m.releaseLock(sessionID)
	}
	return session, nil
}

// finalizeLyrics ranks the lyrics submissions, records the outcome on the
// session, and pays the winner. The payout is guarded by a payout-once
// marker persisted before the stage change, so a retried transition cannot
// credit the winner twice.
func (m *Machine) finalizeLyrics(ctx context.Context, session *domain.Session) error {
	ranked, err := m.ranker.FinalizeRanking(ctx, session, domain.TargetLyrics)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		return nil
	}

	winner := ranked[0]
	session.Results.WinnerSubmissionID = winner.ID
	session.Results.RunnerUpIDs = session.Results.RunnerUpIDs[:0]
	for i := 1; i < len(ranked) && i <= 3; i++ {
		session.Results.RunnerUpIDs = append(session.Results.RunnerUpIDs, ranked[i].ID)
	}

	if !session.Results.WinnerPaidOut {
		if _, err := m.crediter.AddReputation(ctx, winner.AuthorID, reputation.SessionWinBonus, domain.TxSessionWin, session.ID.String()); err != nil {
			return apperrors.InternalError("failed to pay winner bonus", err)
		}
		session.Results.WinnerPaidOut = true
		// persist the marker immediately; if the stage update below fails,
		// a retry must not re-credit
		if err := m.save(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

// Pause stores the current status and parks the session.
func (m *Machine) Pause(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if !session.Status.Active() {
		return nil, transitionConflict("an active stage", session.Status)
	}

	session.PreviousStatus = session.Status
	session.Status = domain.StatusPaused
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:paused", nil)
	return session, nil
}

// Resume restores the pre-pause status.
func (m *Machine) Resume(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusPaused {
		return nil, transitionConflict(string(domain.StatusPaused), session.Status)
	}

	session.Status = session.PreviousStatus
	session.Stage = session.Status.Stage()
	session.PreviousStatus = ""
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:resumed", map[string]any{
		"status": session.Status,
	})
	return session, nil
}

// End marks the session completed. Irreversible.
func (m *Machine) End(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, transitionConflict("a non-terminal state", session.Status)
	}

	session.Status = domain.StatusCompleted
	session.Stage = domain.StatusCompleted.Stage()
	session.PreviousStatus = ""
	session.Live = false
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:ended", nil)
	slog.Info("Session ended", "session_id", session.ID.String())
	m.releaseLock(sessionID)
	return session, nil
}

// Cancel marks the session cancelled from any non-terminal state.
func (m *Machine) Cancel(ctx context.Context, sessionID, callerID uuid.UUID) (*domain.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, transitionConflict("a non-terminal state", session.Status)
	}

	session.Status = domain.StatusCancelled
	session.Stage = 0
	session.PreviousStatus = ""
	session.Live = false
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	transitionOK(session.Status)
	m.publisher.Publish(session.ID.String(), "session:cancelled", nil)
	slog.Info("Session cancelled", "session_id", session.ID.String())
	m.releaseLock(sessionID)
	return session, nil
}

func (m *Machine) save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = m.clock.Now()
	if err := m.sessions.Update(ctx, session); err != nil {
		return apperrors.InternalError("failed to persist session", err)
	}
	return nil
}
