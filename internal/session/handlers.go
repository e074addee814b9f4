package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/notify"
	"github.com/farmpulse/storepulse/internal/protocol"
)

func (s *Session) handleBusinessEvent(env *protocol.Envelope) {
	ev, err := notify.Normalize(env)
	if err != nil {
		s.logger.Warn("discarding business event", zap.String("event", env.Event), zap.Error(err))
		return
	}
	s.center.Ingest(context.Background(), ev)
}

// handleMessage appends to the focused conversation, or else raises a
// notification for the message.
func (s *Session) handleMessage(env *protocol.Envelope) {
	var p protocol.MessagePayload
	if err := env.Decode(&p); err != nil {
		s.logger.Warn("discarding message", zap.Error(err))
		return
	}
	if p.ReceiverID != s.identity.UserID {
		return
	}

	focused := s.messages.AppendInbound(p.ConversationMessage)
	s.contacts.RecordInbound(p, focused)
	s.presence.StopTyping(p.SenderID)

	if !focused {
		s.center.Ingest(context.Background(), notify.MessageEvent(p, s.identity.UserID))
	}
}

func (s *Session) handleStatus(env *protocol.Envelope) {
	var p protocol.StatusPayload
	if err := env.Decode(&p); err != nil || p.UserID == "" {
		s.logger.Warn("discarding status update", zap.Error(err))
		return
	}
	s.presence.SetOnline(p.UserID, p.Online)
	s.contacts.SetOnline(p.UserID, p.Online)
}

func (s *Session) handleTyping(env *protocol.Envelope) {
	var p protocol.TypingPayload
	if err := env.Decode(&p); err != nil || p.SenderID == "" {
		s.logger.Warn("discarding typing event", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if p.ReceiverID != "" && p.ReceiverID != s.identity.UserID {
		return
	}
	if env.Event == protocol.EventTyping {
		s.presence.Typing(p.SenderID)
	} else {
		s.presence.StopTyping(p.SenderID)
	}
}

// handleMessagesRead applies a read receipt: ReaderID has read what the viewer sent.
func (s *Session) handleMessagesRead(env *protocol.Envelope) {
	var p protocol.ReadPayload
	if err := env.Decode(&p); err != nil {
		s.logger.Warn("discarding read receipt", zap.Error(err))
		return
	}
	if p.SenderID != s.identity.UserID {
		return
	}
	if n := s.messages.MarkRead(p.ReaderID); n > 0 {
		s.logger.Debug("messages read", zap.String("reader_id", p.ReaderID), zap.Int("count", n))
	}
}

// handleStateChange drops presence once the channel is gone; it is stale.
func (s *Session) handleStateChange(state domain.ChannelState) {
	if state != domain.ChannelStateDisconnected {
		return
	}
	s.presence.Reset()
	s.logger.Info("realtime channel disconnected")
}
