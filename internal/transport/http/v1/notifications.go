package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListNotifications returns the notification list, newest first.
// GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": s.Notifications(),
		"unread_count":  s.UnreadCount(),
	})
}

// MarkNotificationsRead marks every notification read.
// POST /notifications/read
func (h *Handler) MarkNotificationsRead(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	if err := s.MarkAllRead(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return h.ListNotifications(c)
}

// ClearNotifications empties the list.
// DELETE /notifications
func (h *Handler) ClearNotifications(c echo.Context) error {
	s, ok := h.current()
	if !ok {
		return h.fail(c, errLoggedOut)
	}
	if err := s.ClearNotifications(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
