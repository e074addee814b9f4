// Package sessionstore persists the notification list of each identity.
package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
)

// ErrNotFound is returned by a Backend when no entry exists for a key.
var ErrNotFound = errors.New("session entry not found")

// Backend is raw key/value persistence for encoded snapshots.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store is the typed notification store on top of a Backend.
// Writes are synchronous and last write wins.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New creates a Store.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Load returns the records saved under key. Missing or corrupt data yields an
// empty slice.
func (s *Store) Load(ctx context.Context, key domain.SessionKey) []domain.NotificationRecord {
	data, err := s.backend.Get(ctx, string(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("session store read failed", zap.String("key", string(key)), zap.Error(err))
		}
		return []domain.NotificationRecord{}
	}

	records, err := Decode(data)
	if err != nil {
		s.logger.Warn("discarding unreadable notification snapshot", zap.String("key", string(key)), zap.Error(err))
		return []domain.NotificationRecord{}
	}
	return records
}

// Save replaces the records stored under key.
func (s *Store) Save(ctx context.Context, key domain.SessionKey, records []domain.NotificationRecord) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	if err := s.backend.Put(ctx, string(key), data); err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	return nil
}

// Clear removes everything stored under key.
func (s *Store) Clear(ctx context.Context, key domain.SessionKey) error {
	if err := s.backend.Delete(ctx, string(key)); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// OpenBackend opens the backend named by driver: memory, sqlite or redis.
func OpenBackend(driver, dsn, redisAddr string, redisDB int) (Backend, error) {
	switch driver {
	case "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackend(dsn)
	case "redis":
		return NewRedisBackend(redisAddr, redisDB, "storepulse:")
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
