package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagepulse/stagepulse/internal/logging"
)

func (s *Server) registerRoutes() {
	s.echo.Use(requestIDMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.registerHealthRoutes()

	api := s.echo.Group("/api", newRateLimiter(20, 40))

	// Sessions
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/live", s.handleGoLive)
	api.POST("/sessions/:id/advance", s.handleAdvanceStage)
	api.POST("/sessions/:id/pause", s.handlePauseSession)
	api.POST("/sessions/:id/resume", s.handleResumeSession)
	api.POST("/sessions/:id/end", s.handleEndSession)
	api.POST("/sessions/:id/cancel", s.handleCancelSession)

	// Submissions
	api.POST("/sessions/:id/words", s.handleSubmitWord)
	api.POST("/sessions/:id/songs", s.handleSubmitSong)
	api.GET("/sessions/:id/submissions", s.handleListSubmissions)
	api.POST("/sessions/:id/refinalize", s.handleRefinalize)

	// Votes and rounds
	api.POST("/votes", s.handleCastVote)
	api.DELETE("/votes/:targetType/:targetId", s.handleRemoveVote)
	api.POST("/sessions/:id/rounds", s.handleStartRound)
	api.GET("/sessions/:id/rounds/active", s.handleActiveRound)
	api.POST("/sessions/:id/rounds/vote", s.handleVoteInRound)
	api.POST("/sessions/:id/rounds/:number/end", s.handleEndRound)

	// Engagement
	api.POST("/sessions/:id/chat", s.handleChatMessage)
	api.POST("/sessions/:id/reactions", s.handleReaction)
	api.GET("/sessions/:id/engagement", s.handleGetEngagement)
	api.GET("/sessions/:id/highlights", s.handleListHighlights)

	// Reputation
	api.GET("/users/:id/reputation", s.handleGetReputation)
	api.GET("/users/:id/ledger", s.handleGetLedger)

	// Viewer fanout
	s.echo.GET("/ws/:id", s.handleViewerSocket)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// requestIDMiddleware stamps every request with an ID (echo also echoes it
// back in the X-Request-Id header) and stores it in the request context so
// the logging handler can attach it to every log line of the request.
func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: logging.NewRequestID,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}
