package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apperrors "github.com/stagepulse/stagepulse/internal/errors"
)

func (s *Server) handleChatMessage(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := optionalCallerID(c)
	if err != nil {
		return err
	}

	if err := s.app.PostChatMessage(c.Request().Context(), sessionID, userID, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

type reactionRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleReaction(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := optionalCallerID(c)
	if err != nil {
		return err
	}

	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	burst, err := s.app.React(c.Request().Context(), sessionID, userID, c.RealIP(), req.Type)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{"burst": burst})
}

func (s *Server) handleGetEngagement(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	snap, err := s.app.GetEngagement(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleListHighlights(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	highlights, err := s.app.ListHighlights(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, highlights)
}

func (s *Server) handleGetReputation(c echo.Context) error {
	userID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	rep, err := s.app.GetReputation(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleGetLedger(c echo.Context) error {
	userID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return apperrors.ValidationError("invalid limit").WithContext("limit", raw)
		}
	}

	entries, err := s.app.GetLedger(c.Request().Context(), userID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}
