// Package presence tracks online and typing status of chat counterparts.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
)

// DefaultTypingTimeout clears a typing flag that was never stopped.
const DefaultTypingTimeout = 3 * time.Second

// ChangeFunc is called after a counterpart's state changes. It runs outside
// the tracker lock, possibly on a timer goroutine.
type ChangeFunc func(counterpartID string, state domain.PresenceState)

type entry struct {
	state domain.PresenceState
	timer *time.Timer
	// gen invalidates timers that fire after being superseded
	gen uint64
}

// Tracker holds ephemeral presence state. The last event for a counterpart
// wins; events are not reordered.
type Tracker struct {
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	listeners map[uint64]ChangeFunc
	nextID    uint64
}

// NewTracker creates a tracker. A non-positive timeout uses DefaultTypingTimeout.
func NewTracker(timeout time.Duration, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "presence")),
		entries:   make(map[string]*entry),
		listeners: make(map[uint64]ChangeFunc),
	}
}

// Typing marks counterpartID as typing until StopTyping or the timeout.
// Repeated calls push the deadline out.
func (t *Tracker) Typing(counterpartID string) {
	t.mu.Lock()
	e := t.entryLocked(counterpartID)
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state.IsTyping = true
	e.state.TypingExpiresAt = time.Now().Add(t.timeout)
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(counterpartID, gen) })
	state := e.state
	t.mu.Unlock()

	t.notify(counterpartID, state)
}

// StopTyping clears the typing flag.
func (t *Tracker) StopTyping(counterpartID string) {
	t.mu.Lock()
	e, ok := t.entries[counterpartID]
	if !ok || !e.state.IsTyping {
		t.mu.Unlock()
		return
	}
	state := t.clearTypingLocked(e)
	t.mu.Unlock()

	t.notify(counterpartID, state)
}

// SetOnline replaces the online flag.
func (t *Tracker) SetOnline(counterpartID string, online bool) {
	t.mu.Lock()
	e := t.entryLocked(counterpartID)
	if e.state.IsOnline == online {
		t.mu.Unlock()
		return
	}
	e.state.IsOnline = online
	state := e.state
	t.mu.Unlock()

	t.notify(counterpartID, state)
}

// Get returns the state of counterpartID; unknown counterparts are offline.
func (t *Tracker) Get(counterpartID string) domain.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[counterpartID]; ok {
		return e.state
	}
	return domain.PresenceState{}
}

// Snapshot returns the state of every known counterpart.
func (t *Tracker) Snapshot() map[string]domain.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.PresenceState, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.state
	}
	return out
}

// OnChange registers fn and returns a function that removes it.
func (t *Tracker) OnChange(fn ChangeFunc) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Reset stops every timer and forgets all state. Presence is stale once the
// channel disconnects, so listeners see every known counterpart go offline.
func (t *Tracker) Reset() {
	t.mu.Lock()
	dropped := make([]string, 0, len(t.entries))
	for id, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen++
		if e.state != (domain.PresenceState{}) {
			dropped = append(dropped, id)
		}
	}
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, id := range dropped {
		t.notify(id, domain.PresenceState{})
	}
}

func (t *Tracker) expire(counterpartID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[counterpartID]
	if !ok || e.gen != gen || !e.state.IsTyping {
		t.mu.Unlock()
		return
	}
	state := t.clearTypingLocked(e)
	t.mu.Unlock()

	t.logger.Debug("typing indicator expired", zap.String("counterpart_id", counterpartID))
	t.notify(counterpartID, state)
}

func (t *Tracker) clearTypingLocked(e *entry) domain.PresenceState {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state.IsTyping = false
	e.state.TypingExpiresAt = time.Time{}
	return e.state
}

func (t *Tracker) entryLocked(counterpartID string) *entry {
	e, ok := t.entries[counterpartID]
	if !ok {
		e = &entry{}
		t.entries[counterpartID] = e
	}
	return e
}

func (t *Tracker) notify(counterpartID string, state domain.PresenceState) {
	t.mu.Lock()
	fns := make([]ChangeFunc, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(counterpartID, state)
	}
}
