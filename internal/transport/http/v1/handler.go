// Package v1 provides the local UI API handlers.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/chat"
	"github.com/farmpulse/storepulse/internal/domain"
)

// Session is what the handlers need from the active session.
type Session interface {
	Identity() domain.Identity
	State() domain.ChannelState
	Notifications() []domain.NotificationRecord
	UnreadCount() int
	MarkAllRead(ctx context.Context) error
	ClearNotifications(ctx context.Context) error
	Contacts() []domain.Contact
	Presence(counterpartID string) domain.PresenceState
	OpenConversation(ctx context.Context, counterpartID string) error
	Conversation() (string, []domain.ConversationMessage)
	SendMessage(ctx context.Context, d chat.Draft) (domain.ConversationMessage, error)
	SetTyping(counterpartID string, typing bool) error
	Logout(ctx context.Context) error
}

// Provider returns the active session, if any.
type Provider func() (Session, bool)

var errLoggedOut = apperr.Unauthorized("no active session", nil)

// Handler handles HTTP requests.
type Handler struct {
	current Provider
	logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(current Provider, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{current: current, logger: logger.With(zap.String("component", "local_api"))}
}

// RegisterRoutes registers the local routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.GET("/notifications", h.ListNotifications)
	e.POST("/notifications/read", h.MarkNotificationsRead)
	e.DELETE("/notifications", h.ClearNotifications)

	e.GET("/contacts", h.ListContacts)
	e.GET("/presence/:user_id", h.GetPresence)

	e.GET("/conversations/current", h.GetCurrentConversation)
	e.POST("/conversations/:user_id/open", h.OpenConversation)
	e.POST("/conversations/:user_id/messages", h.SendMessage)
	e.POST("/conversations/:user_id/typing", h.SetTyping)

	e.POST("/logout", h.Logout)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{"status": "healthy"}
	if s, ok := h.current(); ok {
		resp["user_id"] = s.Identity().UserID
		resp["realtime"] = s.State()
	} else {
		resp["realtime"] = domain.ChannelStateDisconnected
		resp["logged_out"] = true
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout ends the active session and erases its notifications.
// POST /logout
func (h *Handler) Logout(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	if err := s.Logout(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fail writes err as {"error": code, "message": text}.
func (h *Handler) fail(c echo.Context, err error) error {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": apperr.CodeInternal, "message": err.Error()})
	}
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	msg := appErr.Message
	if appErr.Code == apperr.CodeValidation && appErr.Err != nil {
		msg = appErr.Err.Error()
	}
	return c.JSON(apperr.StatusOf(err), map[string]string{"error": appErr.Code, "message": msg})
}
