package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/internal/interfaces/http/middleware"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
	"github.com/turtacn/admit/pkg/utils"
)

// SessionService is the session use case served over HTTP.
type SessionService interface {
	Start(ctx context.Context, userID, clientKey string, device models.Device) (models.Session, error)
	Current(ctx context.Context, clientKey string) (models.Session, bool, error)
	End(ctx context.Context, clientKey string) (models.Session, bool, error)
	Count(ctx context.Context, clientKey string) (uint64, error)
}

// StartSessionRequest is the body of POST /api/v1/sessions.
type StartSessionRequest struct {
	UserID string        `json:"userId" validate:"required,max=128"`
	Device models.Device `json:"device" validate:"required"`
}

// SessionHandler exposes the caller's session queue.
type SessionHandler struct {
	sessions SessionService
	logger   logger.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, log logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   log.WithComponent("session_handler"),
	}
}

// StartSession records a new session for the calling client.
// POST /api/v1/sessions
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, h.logger, "start_session", utils.ValidationError(err))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		sendError(c, h.logger, "start_session", err)
		return
	}

	sess, err := h.sessions.Start(c.Request.Context(), req.UserID, middleware.ClientKey(c), req.Device)
	if err != nil {
		sendError(c, h.logger, "start_session", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// CurrentSession returns the caller's oldest live session.
// GET /api/v1/sessions/current
func (h *SessionHandler) CurrentSession(c *gin.Context) {
	sess, ok, err := h.sessions.Current(c.Request.Context(), middleware.ClientKey(c))
	if err != nil {
		sendError(c, h.logger, "current_session", err)
		return
	}
	if !ok {
		sendError(c, h.logger, "current_session", errors.ErrNotFound("session"))
		return
	}
	c.JSON(http.StatusOK, sess)
}

// EndSession removes the caller's oldest session.
// DELETE /api/v1/sessions/current
func (h *SessionHandler) EndSession(c *gin.Context) {
	sess, ok, err := h.sessions.End(c.Request.Context(), middleware.ClientKey(c))
	if err != nil {
		sendError(c, h.logger, "end_session", err)
		return
	}
	if !ok {
		sendError(c, h.logger, "end_session", errors.ErrNotFound("session"))
		return
	}
	c.JSON(http.StatusOK, sess)
}

// CountSessions reports how many sessions the caller has queued.
// GET /api/v1/sessions/count
func (h *SessionHandler) CountSessions(c *gin.Context) {
	n, err := h.sessions.Count(c.Request.Context(), middleware.ClientKey(c))
	if err != nil {
		sendError(c, h.logger, "count_sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}
