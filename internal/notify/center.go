package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/sessionstore"
)

// ErrDiscarded is returned by mutations on a Center whose list was discarded.
var ErrDiscarded = errors.New("notification list discarded")

// Center owns the notification list of one identity and persists it after
// every mutation.
type Center struct {
	viewer   domain.Identity
	key      domain.SessionKey
	store    *sessionstore.Store
	scope    Scope
	capacity int
	logger   *zap.Logger

	mu        sync.RWMutex
	records   []domain.NotificationRecord
	discarded bool
}

// NewCenter loads the persisted list for viewer.
func NewCenter(ctx context.Context, viewer domain.Identity, store *sessionstore.Store, scope Scope, capacity int, logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if scope == nil {
		scope = BranchScope{}
	}

	key := domain.KeyFor(viewer)
	records := store.Load(ctx, key)
	if len(records) > capacity {
		records = records[:capacity]
	}

	return &Center{
		viewer:   viewer,
		key:      key,
		store:    store,
		scope:    scope,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "notify"), zap.String("session_key", string(key))),
		records:  records,
	}
}

// Key returns the session key the list is persisted under.
func (c *Center) Key() domain.SessionKey {
	return c.key
}

// List returns a copy of the records, newest first.
func (c *Center) List() []domain.NotificationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.NotificationRecord, len(c.records))
	copy(out, c.records)
	return out
}

// UnreadCount returns the number of unread records.
func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Unread(c.records)
}

// Ingest reduces ev into the list and reports whether it was accepted.
// A failed write is logged; the in-memory list still reflects the event.
func (c *Center) Ingest(ctx context.Context, ev domain.BusinessEvent) bool {
	if !c.scope.Accepts(c.viewer, ev) {
		c.logger.Debug("event outside viewer scope", zap.String("event", ev.Name), zap.Int64("branch_id", ev.BranchID))
		return false
	}

	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		c.logger.Debug("dropping event for discarded list", zap.String("event", ev.Name))
		return false
	}
	next := Reduce(c.records, ev, c.viewer, ScopeFunc(acceptAll), c.capacity)
	c.records = next
	_ = c.persistLocked(ctx)
	c.mu.Unlock()

	c.logger.Debug("notification added", zap.String("event", ev.Name), zap.String("title", ev.Title))
	return true
}

// MarkAllRead marks every record read.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discarded {
		return ErrDiscarded
	}
	c.records = MarkAllRead(c.records)
	return c.persistLocked(ctx)
}

// Clear empties the list.
func (c *Center) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discarded {
		return ErrDiscarded
	}
	c.records = Clear(c.records)
	return c.persistLocked(ctx)
}

// Discard empties the list, deletes its persisted copy and refuses every
// later write, so an event still in flight cannot recreate the key.
func (c *Center) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = true
	c.records = Clear(c.records)
	if err := c.store.Clear(ctx, c.key); err != nil {
		c.logger.Warn("failed to delete notifications", zap.Error(err))
		return err
	}
	return nil
}

func (c *Center) persistLocked(ctx context.Context) error {
	if err := c.store.Save(ctx, c.key, c.records); err != nil {
		c.logger.Warn("failed to persist notifications", zap.Error(err))
		return err
	}
	return nil
}

func acceptAll(domain.Identity, domain.BusinessEvent) bool { return true }
