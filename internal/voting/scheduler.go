package voting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagepulse/stagepulse/internal/metrics"
)

type timerKey struct {
	SessionID uuid.UUID
	Number    int
}

// autoEndTimers tracks one pending auto-end per (session, round number).
// EndRound's idempotence is the real safety net: a timer firing after the
// round was ended by hand finds it already ended and does nothing.
type autoEndTimers struct {
	mu     sync.Mutex
	timers map[timerKey]chan struct{}
}

func newAutoEndTimers() *autoEndTimers {
	return &autoEndTimers{timers: make(map[timerKey]chan struct{})}
}

func (e *Engine) scheduleAutoEnd(sessionID uuid.UUID, number int, d time.Duration) {
	key := timerKey{SessionID: sessionID, Number: number}
	cancel := make(chan struct{})

	e.autoEnd.mu.Lock()
	if _, exists := e.autoEnd.timers[key]; exists {
		// A timer for this round is already pending; never double-schedule.
		e.autoEnd.mu.Unlock()
		close(cancel)
		return
	}
	e.autoEnd.timers[key] = cancel
	e.autoEnd.mu.Unlock()

	go func() {
		defer e.dropTimer(key)
		select {
		case <-e.clock.After(d):
			if _, err := e.EndRound(context.Background(), sessionID, number); err != nil {
				slog.Error("Auto-end failed",
					"session_id", sessionID.String(),
					"round", number,
					"error", err,
				)
			} else {
				metrics.VotingRoundsTotal.WithLabelValues("auto_ended").Inc()
			}
		case <-cancel:
		}
	}()
}

func (e *Engine) cancelAutoEnd(sessionID uuid.UUID, number int) {
	key := timerKey{SessionID: sessionID, Number: number}
	e.autoEnd.mu.Lock()
	cancel, ok := e.autoEnd.timers[key]
	if ok {
		delete(e.autoEnd.timers, key)
	}
	e.autoEnd.mu.Unlock()
	if ok {
		close(cancel)
	}
}

func (e *Engine) dropTimer(key timerKey) {
	e.autoEnd.mu.Lock()
	delete(e.autoEnd.timers, key)
	e.autoEnd.mu.Unlock()
}
