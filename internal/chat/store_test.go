package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

var me = domain.Identity{UserID: "me", Name: "Kamau", Role: domain.RoleManager, BranchID: 3}

func history() []domain.ConversationMessage {
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return []domain.ConversationMessage{
		{ID: "h1", SenderID: "x", ReceiverID: "me", Content: "morning", CreatedAt: t0, ReadFlag: true, Kind: domain.MessageKindText},
		{ID: "h2", SenderID: "me", ReceiverID: "x", Content: "hi", CreatedAt: t0.Add(time.Minute), ReadFlag: true, Kind: domain.MessageKindText},
	}
}

func newStore(t *testing.T) (*MessageStore, *fakeBackend, *fakeEmitter) {
	t.Helper()
	b := &fakeBackend{history: map[string][]domain.ConversationMessage{"x": history()}}
	e := &fakeEmitter{}
	return NewMessageStore(me, b, e, zap.NewNop()), b, e
}

func TestOpenReplacesWithHistory(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Open(context.Background(), "y"))
	assert.Empty(t, s.Messages())

	require.NoError(t, s.Open(context.Background(), "x"))
	assert.Equal(t, "x", s.Current())
	assert.Equal(t, history(), s.Messages())
}

func TestOpenFailureKeepsState(t *testing.T) {
	s, b, _ := newStore(t)
	require.NoError(t, s.Open(context.Background(), "x"))

	b.historyErr = apperr.Transport("GET", errors.New("connection refused"))
	err := s.Open(context.Background(), "y")
	assert.True(t, apperr.Is(err, apperr.CodeTransport))
	assert.Equal(t, "x", s.Current())
	assert.Len(t, s.Messages(), 2)
}

func TestInboundThenReadReceipt(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	require.NoError(t, s.Open(ctx, "x"))

	out, err := s.AppendOutbound(ctx, Draft{ReceiverID: "x", Content: "are the crates loaded?"})
	require.NoError(t, err)
	assert.False(t, out.ReadFlag)

	in := domain.ConversationMessage{ID: "m9", SenderID: "x", ReceiverID: "me", Content: "yes", Kind: domain.MessageKindText}
	require.True(t, s.AppendInbound(in))
	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "m9", msgs[3].ID)
	assert.False(t, msgs[3].ReadFlag)

	assert.Equal(t, 1, s.MarkRead("x"))
	msgs = s.Messages()
	assert.True(t, msgs[2].ReadFlag, "outbound message read after receipt")
	assert.False(t, msgs[3].ReadFlag, "inbound message untouched")
	assert.Zero(t, s.MarkRead("x"))
}

func TestInboundForOtherConversationIsRejected(t *testing.T) {
	s, _, _ := newStore(t)
	msg := domain.ConversationMessage{ID: "m1", SenderID: "z", ReceiverID: "me", Content: "psst"}
	assert.False(t, s.AppendInbound(msg), "nothing open")

	require.NoError(t, s.Open(context.Background(), "x"))
	assert.False(t, s.AppendInbound(msg))
	assert.Len(t, s.Messages(), 2)
}

func TestInboundIsNotDuplicated(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Open(context.Background(), "x"))
	msg := domain.ConversationMessage{ID: "m1", SenderID: "x", ReceiverID: "me", Content: "once"}
	assert.True(t, s.AppendInbound(msg))
	assert.True(t, s.AppendInbound(msg))
	assert.Len(t, s.Messages(), 3)
}

func TestAppendOutboundSendsAndEmits(t *testing.T) {
	ctx := context.Background()
	s, b, e := newStore(t)
	require.NoError(t, s.Open(ctx, "x"))

	msg, err := s.AppendOutbound(ctx, Draft{ReceiverID: "x", Content: "loading now"})
	require.NoError(t, err)
	assert.Len(t, msg.ID, 26)
	assert.Equal(t, "me", msg.SenderID)
	assert.Equal(t, domain.MessageKindText, msg.Kind)

	require.Len(t, b.sent, 1)
	assert.Equal(t, msg.ID, b.sent[0].ID)

	require.Len(t, e.events, 1)
	assert.Equal(t, protocol.EventSendMessage, e.events[0].event)
	payload := e.events[0].payload.(protocol.MessagePayload)
	assert.Equal(t, "Kamau", payload.SenderName)
	assert.Equal(t, msg, payload.ConversationMessage)
}

func TestAppendOutboundFailuresAreLoggedOnly(t *testing.T) {
	ctx := context.Background()
	s, b, e := newStore(t)
	require.NoError(t, s.Open(ctx, "x"))

	b.sendErr = apperr.Transport("POST", errors.New("timeout"))
	e.err = apperr.Transport("emit", errors.New("not connected"))

	msg, err := s.AppendOutbound(ctx, Draft{ReceiverID: "x", Content: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, msg, s.Messages()[2], "optimistic message is not rolled back")
}

func TestAppendOutboundUnauthorized(t *testing.T) {
	ctx := context.Background()
	s, b, e := newStore(t)
	b.sendErr = apperr.Unauthorized("POST /api/messages", errors.New("401"))

	_, err := s.AppendOutbound(ctx, Draft{ReceiverID: "x", Content: "hi"})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	assert.Empty(t, e.events)
}

func TestAppendOutboundValidation(t *testing.T) {
	cases := map[string]Draft{
		"no receiver":         {Content: "hi"},
		"empty text":          {ReceiverID: "x"},
		"image without ref":   {ReceiverID: "x", Kind: domain.MessageKindImage},
		"unknown kind":        {ReceiverID: "x", Content: "hi", Kind: "video"},
		"content over budget": {ReceiverID: "x", Content: string(make([]byte, 2001))},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			s, b, _ := newStore(t)
			require.NoError(t, s.Open(context.Background(), "x"))
			_, err := s.AppendOutbound(context.Background(), d)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
			assert.Len(t, s.Messages(), 2)
			assert.Empty(t, b.sent)
		})
	}

	s, _, _ := newStore(t)
	_, err := s.AppendOutbound(context.Background(), Draft{ReceiverID: "x", Kind: domain.MessageKindFile, AttachmentRef: "uploads/invoice.pdf"})
	assert.NoError(t, err)
}

func TestCloseForgetsConversation(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Open(context.Background(), "x"))
	s.Close()
	assert.Empty(t, s.Current())
	assert.Empty(t, s.Messages())
	assert.False(t, s.AppendInbound(domain.ConversationMessage{SenderID: "x", ReceiverID: "me"}))
}
