package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/config"
	"github.com/farmpulse/storepulse/internal/logger"
	"github.com/farmpulse/storepulse/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.LoadRelay()

	log := logger.Must(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	log.Info("starting relay",
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Bool("token_required", cfg.Token != ""),
	)

	ctx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	// Initialize hub
	hub := relay.NewHub(log)
	go hub.Run(ctx)

	// WebSocket server
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Logger())
	wsEcho.Use(middleware.Recover())
	relay.NewServer(cfg, hub, log).RegisterRoutes(wsEcho)

	// Internal HTTP server
	api := relay.NewAPI(hub, log)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := wsEcho.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start websocket server", zap.Error(err))
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := api.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start internal http server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		log.Warn("websocket server shutdown", zap.Error(err))
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn("internal http server shutdown", zap.Error(err))
	}
	stopHub()

	log.Info("relay stopped")
}
