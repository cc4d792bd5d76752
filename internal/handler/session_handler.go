package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/session-gate/internal/middleware"
	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
	"github.com/noah-isme/session-gate/pkg/response"
)

type sessionLifecycle interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error)
	Logout(ctx context.Context, sessionID string, identity models.Identity, meta models.SessionMetadata) error
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.SessionSummary, error)
}

// SessionHandler wires HTTP endpoints to the session lifecycle service.
type SessionHandler struct {
	service sessionLifecycle
}

// NewSessionHandler creates a new handler.
func NewSessionHandler(svc sessionLifecycle) *SessionHandler {
	return &SessionHandler{service: svc}
}

// Login godoc
// @Summary Authenticate user
// @Description Verify credentials and open a new session, superseding prior ones
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *SessionHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Rotate the token pair for an active session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *SessionHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, appErrors.Redact(err))
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Logout session
// @Description Deactivate the caller's session; repeat calls are no-ops
// @Tags Sessions
// @Accept json
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *SessionHandler) Logout(c *gin.Context) {
	identity := middleware.Identity(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := identity.SessionID
	var payload struct {
		SessionID string `json:"session_id"`
	}
	// An explicit body may name another of the caller's sessions.
	if err := c.ShouldBindJSON(&payload); err == nil && payload.SessionID != "" {
		sessionID = payload.SessionID
	}

	meta := models.SessionMetadata{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Endpoint:  c.FullPath(),
		Method:    c.Request.Method,
	}
	if err := h.service.Logout(c.Request.Context(), sessionID, *identity, meta); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListSessions godoc
// @Summary List active sessions
// @Description Returns the caller's active sessions, most recent first
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	identity := middleware.Identity(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summaries, err := h.service.ListSessions(c.Request.Context(), identity.UserID, identity.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summaries)
}

// Me godoc
// @Summary Get current identity
// @Description Returns the authenticated caller's identity
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *SessionHandler) Me(c *gin.Context) {
	identity := middleware.Identity(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info := models.UserInfo{
		ID:    identity.UserID,
		Email: identity.Email,
	}

	response.JSON(c, http.StatusOK, info)
}
