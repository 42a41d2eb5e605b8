package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
)

type submitWordRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSubmitWord(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := optionalCallerID(c)
	if err != nil {
		return err
	}

	var req submitWordRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	sub, err := s.app.SubmitWord(c.Request().Context(), sessionID, userID, c.RealIP(), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}

type submitSongRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSubmitSong(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	caller, err := callerID(c)
	if err != nil {
		return err
	}

	var req submitSongRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	sub, err := s.app.SubmitSong(c.Request().Context(), sessionID, caller, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}

func parseKind(c echo.Context) (domain.TargetType, error) {
	kind := domain.TargetType(c.QueryParam("kind"))
	if kind == "" {
		kind = domain.TargetLyrics
	}
	switch kind {
	case domain.TargetLyrics, domain.TargetSong:
		return kind, nil
	default:
		return "", apperrors.ValidationError("unknown submission kind").
			WithContext("kind", string(kind))
	}
}

func (s *Server) handleListSubmissions(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	kind, err := parseKind(c)
	if err != nil {
		return err
	}

	subs, err := s.app.ListSubmissions(c.Request().Context(), sessionID, kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, subs)
}

func (s *Server) handleRefinalize(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	kind, err := parseKind(c)
	if err != nil {
		return err
	}

	ranked, err := s.app.RefinalizeRanking(c.Request().Context(), sessionID, caller, kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ranked)
}
