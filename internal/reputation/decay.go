package reputation

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/logging"
	"github.com/stagepulse/stagepulse/internal/metrics"
)

// SweepDecay penalizes every user inactive for longer than window by
// removing percent of their current score, rounded up. The penalty flows
// through AddReputation with a negative amount, so it lands in the ledger
// and clamps at zero like any other transaction.
func (e *Engine) SweepDecay(ctx context.Context, window time.Duration, percent float64) (int, error) {
	defer func(start time.Time) {
		metrics.ReputationDecaySweepDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	cutoff := e.clock.Now().Add(-window)
	inactive, err := e.repo.ListInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, rep := range inactive {
		penalty := int(math.Ceil(float64(rep.Score) * percent))
		if penalty == 0 {
			continue
		}
		if _, err := e.AddReputation(ctx, rep.UserID, -penalty, domain.TxDecay, "inactivity"); err != nil {
			slog.Error("Decay failed", "user_id", rep.UserID.String(), "error", err)
			continue
		}
		decayed++
	}
	return decayed, nil
}

// DecaySweeper runs SweepDecay on a fixed interval until stopped.
type DecaySweeper struct {
	engine   *Engine
	window   time.Duration
	percent  float64
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewDecaySweeper(engine *Engine, window time.Duration, percent float64, interval time.Duration) *DecaySweeper {
	return &DecaySweeper{
		engine:   engine,
		window:   window,
		percent:  percent,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *DecaySweeper) Start() {
	go s.run()
}

func (s *DecaySweeper) run() {
	defer close(s.doneCh)
	ticker := s.engine.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			ctx := logging.WithRequestID(context.Background(), logging.NewRequestID())
			n, err := s.engine.SweepDecay(ctx, s.window, s.percent)
			if err != nil {
				slog.ErrorContext(ctx, "Decay sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "Decay sweep complete", "users_decayed", n)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (s *DecaySweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
