// Package chat holds the open conversation and the contact directory.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/backend"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

// Backend is the REST surface chat needs.
type Backend interface {
	History(ctx context.Context, counterpartID string) ([]domain.ConversationMessage, error)
	SendMessage(ctx context.Context, req backend.SendMessageRequest) (*domain.ConversationMessage, error)
	MarkRead(ctx context.Context, counterpartID string) error
	Contacts(ctx context.Context) ([]domain.Contact, error)
}

// Emitter sends realtime events.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// MessageStore is the ordered message log of the open conversation.
type MessageStore struct {
	viewer   domain.Identity
	backend  Backend
	emitter  Emitter
	validate *validator.Validate
	logger   *zap.Logger

	mu       sync.RWMutex
	current  string
	messages []domain.ConversationMessage
}

// NewMessageStore creates a store with no open conversation.
func NewMessageStore(viewer domain.Identity, b Backend, emitter Emitter, logger *zap.Logger) *MessageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageStore{
		viewer:   viewer,
		backend:  b,
		emitter:  emitter,
		validate: newValidator(),
		logger:   logger.With(zap.String("component", "chat")),
	}
}

// Open fetches the full history with counterpartID and makes it the open
// conversation. On failure the previous state is kept.
func (s *MessageStore) Open(ctx context.Context, counterpartID string) error {
	if counterpartID == "" {
		return apperr.Validation("counterpart is required", nil)
	}
	history, err := s.backend.History(ctx, counterpartID)
	if err != nil {
		s.logger.Warn("failed to load conversation", zap.String("counterpart_id", counterpartID), zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.current = counterpartID
	s.messages = history
	s.mu.Unlock()

	s.logger.Debug("conversation opened", zap.String("counterpart_id", counterpartID), zap.Int("messages", len(history)))
	return nil
}

// AppendInbound appends msg when it belongs to the open conversation and
// reports whether it did. A message already present is not appended twice.
func (s *MessageStore) AppendInbound(msg domain.ConversationMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" || msg.Counterpart(s.viewer.UserID) != s.current {
		return false
	}
	if msg.ID != "" {
		for _, m := range s.messages {
			if m.ID == msg.ID {
				return true
			}
		}
	}
	s.messages = append(s.messages, msg)
	return true
}

// AppendOutbound validates d, appends it optimistically and sends it.
// Send failures are logged and the optimistic message stays. Only
// validation and authorization failures are returned.
func (s *MessageStore) AppendOutbound(ctx context.Context, d Draft) (domain.ConversationMessage, error) {
	if d.Kind == "" {
		d.Kind = domain.MessageKindText
	}
	if err := validateDraft(s.validate, d); err != nil {
		return domain.ConversationMessage{}, err
	}

	msg := domain.ConversationMessage{
		ID:            ulid.Make().String(),
		SenderID:      s.viewer.UserID,
		ReceiverID:    d.ReceiverID,
		Content:       d.Content,
		CreatedAt:     time.Now().UTC(),
		Kind:          d.Kind,
		AttachmentRef: d.AttachmentRef,
	}

	s.mu.Lock()
	if s.current == msg.ReceiverID {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	if _, err := s.backend.SendMessage(ctx, backend.SendMessageRequest{
		ID:            msg.ID,
		ReceiverID:    msg.ReceiverID,
		Content:       msg.Content,
		Kind:          msg.Kind,
		AttachmentRef: msg.AttachmentRef,
	}); err != nil {
		s.logger.Warn("failed to persist message", zap.String("message_id", msg.ID), zap.Error(err))
		if apperr.Is(err, apperr.CodeUnauthorized) {
			return msg, err
		}
	}

	if err := s.emitter.Emit(protocol.EventSendMessage, protocol.MessagePayload{
		ConversationMessage: msg,
		SenderName:          s.viewer.Name,
	}); err != nil {
		s.logger.Warn("failed to send message", zap.String("message_id", msg.ID), zap.Error(err))
	}
	return msg, nil
}

// MarkRead flips ReadFlag on the viewer's messages to counterpartID and
// returns how many changed.
func (s *MessageStore) MarkRead(counterpartID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == s.viewer.UserID && m.ReceiverID == counterpartID && !m.ReadFlag {
			m.ReadFlag = true
			n++
		}
	}
	return n
}

// Close forgets the open conversation.
func (s *MessageStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.messages = nil
}

// Current returns the open counterpart, or "" when none is open.
func (s *MessageStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Messages returns a copy of the open conversation.
func (s *MessageStore) Messages() []domain.ConversationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ConversationMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
