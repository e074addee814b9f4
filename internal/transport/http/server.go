// Package http provides the local HTTP server the UI talks to.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	v1 "github.com/farmpulse/storepulse/internal/transport/http/v1"
)

// NewServer creates and configures the local UI server.
func NewServer(provider v1.Provider, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(provider, logger).RegisterRoutes(e)

	return e
}
