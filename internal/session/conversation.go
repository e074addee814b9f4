package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/chat"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

// OpenConversation focuses the conversation with counterpartID: it loads the
// history, acknowledges it with the backend and tells the counterpart.
func (s *Session) OpenConversation(ctx context.Context, counterpartID string) error {
	if err := s.live(); err != nil {
		return err
	}
	if err := s.messages.Open(ctx, counterpartID); err != nil {
		s.checkAuth(err)
		return err
	}
	// the session may have ended while the history was in flight
	if err := s.live(); err != nil {
		s.messages.Close()
		return err
	}

	if err := s.contacts.Acknowledge(ctx, counterpartID); err != nil {
		s.checkAuth(err)
		return err
	}

	if err := s.channel.Emit(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{
		ReaderID:      s.identity.UserID,
		CounterpartID: counterpartID,
	}); err != nil {
		s.logger.Warn("failed to send read receipt", zap.String("counterpart_id", counterpartID), zap.Error(err))
	}
	return nil
}

// CloseConversation unfocuses the open conversation.
func (s *Session) CloseConversation() {
	s.messages.Close()
}

// SendMessage appends d to its conversation and sends it.
func (s *Session) SendMessage(ctx context.Context, d chat.Draft) (domain.ConversationMessage, error) {
	if err := s.live(); err != nil {
		return domain.ConversationMessage{}, err
	}
	msg, err := s.messages.AppendOutbound(ctx, d)
	if err != nil {
		s.checkAuth(err)
		return msg, err
	}
	s.contacts.RecordOutbound(msg)
	return msg, nil
}

// SetTyping tells counterpartID whether the viewer is typing.
func (s *Session) SetTyping(counterpartID string, typing bool) error {
	if err := s.live(); err != nil {
		return err
	}
	if counterpartID == "" {
		return apperr.Validation("counterpart is required", nil)
	}
	event := protocol.EventStopTyping
	if typing {
		event = protocol.EventTyping
	}
	return s.channel.Emit(event, protocol.TypingPayload{SenderID: s.identity.UserID, ReceiverID: counterpartID})
}
