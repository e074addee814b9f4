package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/auth"
	"github.com/farmpulse/storepulse/internal/backend"
	"github.com/farmpulse/storepulse/internal/config"
	"github.com/farmpulse/storepulse/internal/logger"
	"github.com/farmpulse/storepulse/internal/notify"
	"github.com/farmpulse/storepulse/internal/policy"
	"github.com/farmpulse/storepulse/internal/realtime"
	"github.com/farmpulse/storepulse/internal/session"
	"github.com/farmpulse/storepulse/internal/sessionstore"
	localhttp "github.com/farmpulse/storepulse/internal/transport/http"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.Must(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("pulse exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	identity, err := auth.NewVerifier(cfg.AuthSecret).Identity(cfg.AuthToken)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	log.Info("starting pulse",
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
		zap.Int64("branch_id", identity.BranchID),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Int("http_port", cfg.HTTPPort),
	)

	storeBackend, err := sessionstore.OpenBackend(cfg.StoreDriver, cfg.StoreDSN, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	store := sessionstore.New(storeBackend, log)
	defer store.Close()

	var scope notify.Scope = notify.BranchScope{}
	if cfg.VisibilityPolicyFile != "" {
		engine, err := policy.Load(ctx, cfg.VisibilityPolicyFile, log)
		if err != nil {
			return fmt.Errorf("load visibility policy: %w", err)
		}
		scope = engine
	}

	channel := realtime.NewChannel(realtime.Options{
		URL:            cfg.RealtimeURL,
		Token:          cfg.AuthToken,
		DialTimeout:    cfg.DialTimeout,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         log,
	})

	sess := session.New(ctx, session.Deps{
		Identity:      identity,
		Store:         store,
		Channel:       channel,
		Backend:       backend.NewClient(cfg.BackendURL, cfg.AuthToken, cfg.RequestTimeout, log),
		Scope:         scope,
		Capacity:      cfg.NotifyCapacity,
		TypingTimeout: cfg.TypingTimeout,
		Logger:        log,
	})

	var slot localhttp.Slot
	slot.Set(sess)
	sess.OnLogout(func(reason error) {
		if reason != nil {
			log.Warn("session ended by backend, log in again", zap.Error(reason))
			return
		}
		log.Info("logged out")
	})

	if err := sess.Start(ctx); err != nil {
		// Transport failures leave the daemon serving persisted notifications.
		log.Error("realtime session did not start", zap.Error(err))
	}

	server := localhttp.NewServer(slot.Provider(), log)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start local api", zap.Error(err))
		}
	}()
	log.Info("local api started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down pulse")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("local api shutdown", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		log.Warn("session close", zap.Error(err))
	}

	log.Info("pulse stopped")
	return nil
}
