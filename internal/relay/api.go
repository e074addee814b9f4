package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// API is the internal HTTP surface of the relay used to inject backend events.
type API struct {
	echo   *echo.Echo
	hub    *Hub
	logger *zap.Logger
}

// NewAPI creates the internal HTTP server.
func NewAPI(h *Hub, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	a := &API{echo: e, hub: h, logger: logger}
	a.RegisterRoutes(e)
	return a
}

// RegisterRoutes mounts the internal routes on e.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", a.handleHealth)
	e.POST("/internal/emit", a.handleEmit)
	e.POST("/internal/users/:user_id/kick", a.handleKick)
}

// Start starts the HTTP server.
func (a *API) Start(addr string) error {
	return a.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}

func (a *API) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": a.hub.GetConnectionCount(),
		"users":       a.hub.GetUserCount(),
	})
}

// EmitRequest represents the request body for POST /internal/emit.
type EmitRequest struct {
	UserID string          `json:"user_id,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// EmitResponse represents the response for POST /internal/emit.
type EmitResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// handleEmit pushes a backend event to one user, or to every registered user.
func (a *API) handleEmit(c echo.Context) error {
	var req EmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Event == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}

	delivered := a.hub.GetUserCount() > 0
	if req.UserID != "" {
		delivered = a.hub.IsOnline(req.UserID)
	}

	if err := a.hub.SendJSON(req.UserID, req.Event, req.Data); err != nil {
		a.logger.Warn("failed to emit event", zap.String("event", req.Event), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to emit event"})
	}

	a.logger.Info("event emitted", zap.String("event", req.Event), zap.String("user_id", req.UserID), zap.Bool("delivered", delivered))
	return c.JSON(http.StatusOK, EmitResponse{OK: true, Delivered: delivered})
}

// handleKick drops every connection of a user, simulating a backend-side disconnect.
func (a *API) handleKick(c echo.Context) error {
	userID := c.Param("user_id")
	closed := a.hub.Kick(userID)
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "closed": closed})
}
