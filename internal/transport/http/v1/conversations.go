package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/chat"
	"github.com/farmpulse/storepulse/internal/domain"
)

// SendMessageRequest is the body of POST /conversations/:user_id/messages.
type SendMessageRequest struct {
	Content       string             `json:"content"`
	Kind          domain.MessageKind `json:"kind,omitempty"`
	AttachmentRef string             `json:"attachment_ref,omitempty"`
}

// TypingRequest is the body of POST /conversations/:user_id/typing.
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// ListContacts returns the contact directory.
// GET /contacts
func (h *Handler) ListContacts(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"contacts": s.Contacts()})
}

// GetPresence returns a counterpart's presence.
// GET /presence/:user_id
func (h *Handler) GetPresence(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	return c.JSON(http.StatusOK, s.Presence(c.Param("user_id")))
}

// OpenConversation focuses a conversation and returns its history.
// POST /conversations/:user_id/open
func (h *Handler) OpenConversation(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	if err := s.OpenConversation(c.Request().Context(), c.Param("user_id")); err != nil {
		return h.fail(c, err)
	}
	return h.GetCurrentConversation(c)
}

// GetCurrentConversation returns the focused conversation.
// GET /conversations/current
func (h *Handler) GetCurrentConversation(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	counterpart, messages := s.Conversation()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"counterpart_id": counterpart,
		"messages":       messages,
	})
}

// SendMessage sends a message to the counterpart.
// POST /conversations/:user_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, apperr.Validation("invalid request body", err))
	}

	msg, err := s.SendMessage(c.Request().Context(), chat.Draft{
		ReceiverID:    c.Param("user_id"),
		Content:       req.Content,
		Kind:          req.Kind,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// SetTyping relays the viewer's typing state.
// POST /conversations/:user_id/typing
func (h *Handler) SetTyping(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	var req TypingRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, apperr.Validation("invalid request body", err))
	}
	if err := s.SetTyping(c.Param("user_id"), req.Typing); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
