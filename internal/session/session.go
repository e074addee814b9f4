// Package session wires the realtime core together for one authenticated identity.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/chat"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/notify"
	"github.com/farmpulse/storepulse/internal/presence"
	"github.com/farmpulse/storepulse/internal/protocol"
	"github.com/farmpulse/storepulse/internal/realtime"
	"github.com/farmpulse/storepulse/internal/sessionstore"
)

// Channel is the realtime connection a session owns.
type Channel interface {
	Connect(ctx context.Context, id domain.Identity) error
	Subscribe(event string, handler realtime.Handler) *realtime.Subscription
	OnStateChange(fn func(domain.ChannelState)) *realtime.Subscription
	Emit(event string, payload interface{}) error
	State() domain.ChannelState
	Close() error
}

// Deps are the collaborators of a Session.
type Deps struct {
	Identity      domain.Identity
	Store         *sessionstore.Store
	Channel       Channel
	Backend       chat.Backend
	Scope         notify.Scope
	Capacity      int
	TypingTimeout time.Duration
	Logger        *zap.Logger
}

// Session is the realtime state of one logged-in identity. Its lifetime is
// bounded by Start and Close; nothing outlives it except the persisted
// notification list.
type Session struct {
	identity domain.Identity
	store    *sessionstore.Store
	channel  Channel
	center   *notify.Center
	messages *chat.MessageStore
	contacts *chat.Directory
	presence *presence.Tracker
	logger   *zap.Logger

	subs realtime.Group

	mu         sync.Mutex
	started    bool
	closed     bool
	loggedOut  bool
	onLogout   []func(error)
	closeOnce  sync.Once
	logoutOnce sync.Once
}

// New builds a session and loads the identity's persisted notifications.
func New(ctx context.Context, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("user_id", deps.Identity.UserID), zap.String("role", string(deps.Identity.Role)))

	return &Session{
		identity: deps.Identity,
		store:    deps.Store,
		channel:  deps.Channel,
		center:   notify.NewCenter(ctx, deps.Identity, deps.Store, deps.Scope, deps.Capacity, logger),
		messages: chat.NewMessageStore(deps.Identity, deps.Backend, deps.Channel, logger),
		contacts: chat.NewDirectory(deps.Backend, logger),
		presence: presence.NewTracker(deps.TypingTimeout, logger),
		logger:   logger.With(zap.String("component", "session")),
	}
}

// Identity returns the identity the session belongs to.
func (s *Session) Identity() domain.Identity {
	return s.identity
}

// Start subscribes every handler, connects the channel and loads contacts.
// It may be called once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.Conflict("session is closed")
	}
	if s.started {
		s.mu.Unlock()
		return apperr.Conflict("session already started")
	}
	s.started = true
	s.mu.Unlock()

	for _, event := range notify.BusinessEvents {
		s.subs.Add(s.channel.Subscribe(event, s.handleBusinessEvent))
	}
	s.subs.Add(s.channel.Subscribe(protocol.EventReceiveMessage, s.handleMessage))
	s.subs.Add(s.channel.Subscribe(protocol.EventUserStatusUpdate, s.handleStatus))
	s.subs.Add(s.channel.Subscribe(protocol.EventTyping, s.handleTyping))
	s.subs.Add(s.channel.Subscribe(protocol.EventStopTyping, s.handleTyping))
	s.subs.Add(s.channel.Subscribe(protocol.EventMessagesRead, s.handleMessagesRead))
	s.subs.Add(s.channel.OnStateChange(s.handleStateChange))

	if err := s.channel.Connect(ctx, s.identity); err != nil {
		s.logger.Warn("realtime connect failed", zap.Error(err))
		s.checkAuth(err)
		return err
	}

	if err := s.contacts.Load(ctx); err != nil {
		s.checkAuth(err)
		if apperr.Is(err, apperr.CodeUnauthorized) {
			return err
		}
	}

	s.logger.Info("session started", zap.Int("notifications", len(s.center.List())))
	return nil
}

// Close tears the session down. Persisted notifications are kept.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.subs.UnsubscribeAll()
		err = s.channel.Close()
		s.presence.Reset()
		s.messages.Close()
		s.contacts.Reset()
		s.logger.Info("session closed")
	})
	return err
}

// Logout closes the session and erases the identity's notifications. Every
// later operation fails with UNAUTHORIZED.
func (s *Session) Logout(ctx context.Context) error {
	return s.logout(ctx, nil)
}

// OnLogout registers fn to run once the session is logged out. reason is nil
// for Logout and the authorization error when the backend rejected the
// session.
func (s *Session) OnLogout(fn func(reason error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

func (s *Session) logout(ctx context.Context, reason error) error {
	var err error
	s.logoutOnce.Do(func() {
		s.mu.Lock()
		s.loggedOut = true
		s.mu.Unlock()

		if reason != nil {
			s.logger.Warn("authorization rejected, logging out", zap.Error(reason))
		}
		err = s.Close()
		if derr := s.center.Discard(ctx); derr != nil {
			err = derr
		}
		s.logger.Info("session logged out")

		s.mu.Lock()
		fns := append([]func(error){}, s.onLogout...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(reason)
		}
	})
	return err
}

// checkAuth forces logout when err is an authorization failure.
func (s *Session) checkAuth(err error) {
	if !apperr.Is(err, apperr.CodeUnauthorized) {
		return
	}
	if lerr := s.logout(context.Background(), err); lerr != nil {
		s.logger.Warn("forced logout incomplete", zap.Error(lerr))
	}
}

// live fails once the session is closed or logged out.
func (s *Session) live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.loggedOut:
		return apperr.Unauthorized("session is logged out", nil)
	case s.closed:
		return apperr.Conflict("session is closed")
	}
	return nil
}

// State returns the realtime channel state.
func (s *Session) State() domain.ChannelState {
	return s.channel.State()
}

// Notifications returns the notification list, newest first.
func (s *Session) Notifications() []domain.NotificationRecord {
	return s.center.List()
}

// UnreadCount returns the number of unread notifications.
func (s *Session) UnreadCount() int {
	return s.center.UnreadCount()
}

// MarkAllRead marks every notification read.
func (s *Session) MarkAllRead(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.center.MarkAllRead(ctx)
}

// ClearNotifications empties the notification list.
func (s *Session) ClearNotifications(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.center.Clear(ctx)
}

// Contacts returns the contact directory.
func (s *Session) Contacts() []domain.Contact {
	return s.contacts.List()
}

// Presence returns the presence of one counterpart.
func (s *Session) Presence(counterpartID string) domain.PresenceState {
	return s.presence.Get(counterpartID)
}

// OnPresenceChange registers fn for presence changes.
func (s *Session) OnPresenceChange(fn presence.ChangeFunc) func() {
	return s.presence.OnChange(fn)
}

// Conversation returns the open counterpart and its messages.
func (s *Session) Conversation() (string, []domain.ConversationMessage) {
	return s.messages.Current(), s.messages.Messages()
}
