package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/stagepulse/stagepulse/internal/app"
	"github.com/stagepulse/stagepulse/internal/config"
	"github.com/stagepulse/stagepulse/internal/httpserver"
	"github.com/stagepulse/stagepulse/internal/hype"
	"github.com/stagepulse/stagepulse/internal/logging"
	"github.com/stagepulse/stagepulse/internal/metrics"
	"github.com/stagepulse/stagepulse/internal/postgres"
	"github.com/stagepulse/stagepulse/internal/ratelimit"
	"github.com/stagepulse/stagepulse/internal/redis"
	"github.com/stagepulse/stagepulse/internal/reputation"
	"github.com/stagepulse/stagepulse/internal/session"
	"github.com/stagepulse/stagepulse/internal/version"
	"github.com/stagepulse/stagepulse/internal/voting"
	ws "github.com/stagepulse/stagepulse/internal/websocket"
)

const (
	hypeInterval         = 5 * time.Second
	activityRetention    = 5 * time.Minute
	viewerSampleInterval = 15 * time.Second
)

// startViewerSampler periodically records the viewer count of every session
// with at least one open connection, feeding the hype calculator's
// viewer-trend metric. Returns a stop function.
func startViewerSampler(svc *app.Service, hub *ws.Hub, clock clockwork.Clock) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := clock.NewTicker(viewerSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				for _, sessionID := range hub.ActiveSessions() {
					svc.RecordViewerCount(context.Background(), sessionID, hub.ClientCount(sessionID))
				}
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to ping Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, calc *hype.Calculator, hub *ws.Hub, relay *ws.Relay, sweeper *reputation.DecaySweeper) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		calc.StopAll()
		relay.Close()
		hub.Stop()
		sweeper.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", build.Version)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	// Postgres holds the durable records, Redis the hot counters.
	sessions := postgres.NewSessionRepository(pool)
	submissions := postgres.NewSubmissionRepository(pool)
	votes := postgres.NewVoteRepository(pool)
	reputations := postgres.NewReputationRepository(pool)
	engagement := postgres.NewEngagementRepository(pool)

	activity := redis.NewActivityStore(redisClient, activityRetention)
	rateLimits := redis.NewRateLimitStore(redisClient, activityRetention)
	budgets := redis.NewBudgetStore(redisClient)
	rounds := redis.NewRoundStore(redisClient)
	pubsub := redis.NewPubSub(redisClient)

	repEngine := reputation.NewEngine(reputations, clock)
	votingEngine := voting.NewEngine(sessions, submissions, votes, rounds, budgets, repEngine, pubsub, clock)
	machine := session.NewMachine(sessions, votingEngine, repEngine, pubsub, clock)
	calculator := hype.NewCalculator(sessions, activity, engagement, rounds, pubsub, clock,
		hypeInterval, cfg.BurstWindow, cfg.BurstThreshold)
	limiter := ratelimit.New(rateLimits, clock)

	svc := app.NewService(cfg, sessions, submissions, engagement, activity,
		machine, votingEngine, repEngine, calculator, limiter, pubsub, clock)

	// The hub and relay are created after the callbacks, which close over
	// these variables and see the assignments below. The callbacks only
	// fire once viewers connect, after both are in place.
	var (
		hub   *ws.Hub
		relay *ws.Relay
	)

	onFirstViewer := func(sessionID uuid.UUID) {
		relay.Start(context.Background(), sessionID)
		svc.RecordViewerCount(context.Background(), sessionID, hub.ClientCount(sessionID))
	}
	onLastViewer := func(sessionID uuid.UUID) {
		relay.Stop(sessionID)
		svc.RecordViewerCount(context.Background(), sessionID, 0)
	}
	hub = ws.NewHub(onFirstViewer, onLastViewer, clock)
	hub.SetMaxClientsPerSession(cfg.MaxClientsPerSession)
	hub.SetMaxConnections(cfg.MaxConnectionsPerInst)
	relay = ws.NewRelay(pubsub, hub)

	samplerStop := startViewerSampler(svc, hub, clock)
	defer samplerStop()

	sweeper := reputation.NewDecaySweeper(repEngine, cfg.DecayWindow, cfg.DecayPercent, cfg.DecayInterval)
	sweeper.Start()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: redisClient.Ping},
	}
	srv := httpserver.NewServer(cfg, svc, hub, healthChecks)

	done := runGracefulShutdown(srv, calculator, hub, relay, sweeper)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
