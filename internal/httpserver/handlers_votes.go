package httpserver

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
)

type castVoteRequest struct {
	TargetID   uuid.UUID         `json:"targetId"`
	TargetType domain.TargetType `json:"targetType"`
	Value      int               `json:"value"`
}

func (s *Server) handleCastVote(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}

	var req castVoteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.TargetID == uuid.Nil {
		return apperrors.ValidationError("targetId is required")
	}

	vote, err := s.app.CastVote(c.Request().Context(), userID, req.TargetID, req.TargetType, req.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, vote)
}

func (s *Server) handleRemoveVote(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	targetID, err := pathUUID(c, "targetId")
	if err != nil {
		return err
	}
	targetType := domain.TargetType(c.Param("targetType"))

	if err := s.app.RemoveVote(c.Request().Context(), userID, targetID, targetType); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type startRoundRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (s *Server) handleStartRound(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	caller, err := callerID(c)
	if err != nil {
		return err
	}

	var req startRoundRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	round, err := s.app.StartRound(c.Request().Context(), sessionID, caller, req.Question, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, round)
}

func (s *Server) handleActiveRound(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	round, active, err := s.app.ActiveRound(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	if !active {
		return c.JSON(http.StatusOK, map[string]any{"active": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"active": true, "round": round})
}

type roundVoteRequest struct {
	OptionID string `json:"optionId"`
}

func (s *Server) handleVoteInRound(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := callerID(c)
	if err != nil {
		return err
	}

	var req roundVoteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	round, err := s.app.VoteInRound(c.Request().Context(), sessionID, userID, req.OptionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, round)
}

func (s *Server) handleEndRound(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	caller, err := callerID(c)
	if err != nil {
		return err
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		return apperrors.ValidationError("invalid round number").
			WithContext("number", c.Param("number"))
	}

	round, err := s.app.EndRound(c.Request().Context(), sessionID, caller, number)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, round)
}
