package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
)

// userIDHeader carries the caller's identity. Authentication itself is
// terminated upstream; the engine trusts the header the gateway sets.
const userIDHeader = "X-User-ID"

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid UUID").WithContext(name, raw)
	}
	return id, nil
}

// callerID returns the authenticated caller, or an error when the
// endpoint requires one.
func callerID(c echo.Context) (uuid.UUID, error) {
	raw := c.Request().Header.Get(userIDHeader)
	if raw == "" {
		return uuid.Nil, apperrors.ForbiddenError("authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid user ID header")
	}
	return id, nil
}

// optionalCallerID returns the caller when present, uuid.Nil otherwise.
// Anonymous callers fall back to address-keyed rate limiting.
func optionalCallerID(c echo.Context) (uuid.UUID, error) {
	raw := c.Request().Header.Get(userIDHeader)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid user ID header")
	}
	return id, nil
}

type createSessionRequest struct {
	Title    string                 `json:"title"`
	Settings domain.SessionSettings `json:"settings"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	hostID, err := callerID(c)
	if err != nil {
		return err
	}

	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	sess, err := s.app.CreateSession(c.Request().Context(), hostID, req.Title, req.Settings)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	sess, err := s.app.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// lifecycleHandler wraps the shared shape of the stage transition
// endpoints: parse IDs, call the transition, return the session.
func (s *Server) lifecycleHandler(transition func(c echo.Context, sessionID, callerID uuid.UUID) (*domain.Session, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID, err := pathUUID(c, "id")
		if err != nil {
			return err
		}
		caller, err := callerID(c)
		if err != nil {
			return err
		}

		sess, err := transition(c, sessionID, caller)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sess)
	}
}

func (s *Server) handleGoLive(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.GoLive(c.Request().Context(), sessionID, caller)
	})(c)
}

func (s *Server) handleAdvanceStage(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.AdvanceStage(c.Request().Context(), sessionID, caller)
	})(c)
}

func (s *Server) handlePauseSession(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.PauseSession(c.Request().Context(), sessionID, caller)
	})(c)
}

func (s *Server) handleResumeSession(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.ResumeSession(c.Request().Context(), sessionID, caller)
	})(c)
}

func (s *Server) handleEndSession(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.EndSession(c.Request().Context(), sessionID, caller)
	})(c)
}

func (s *Server) handleCancelSession(c echo.Context) error {
	return s.lifecycleHandler(func(c echo.Context, sessionID, caller uuid.UUID) (*domain.Session, error) {
		return s.app.CancelSession(c.Request().Context(), sessionID, caller)
	})(c)
}
