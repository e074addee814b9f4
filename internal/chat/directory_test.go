package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

func inbound(from, content string) protocol.MessagePayload {
	return protocol.MessagePayload{
		ConversationMessage: domain.ConversationMessage{SenderID: from, ReceiverID: "me", Content: content, Kind: domain.MessageKindText},
		SenderName:          "Sender " + from,
	}
}

func newDirectory(t *testing.T) (*Directory, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{contacts: []domain.Contact{
		{ID: "a", DisplayName: "Akinyi", Role: domain.RoleStaff},
		{ID: "b", DisplayName: "Baraka", Role: domain.RoleDriver, UnreadCount: 1},
	}}
	d := NewDirectory(b, zap.NewNop())
	require.NoError(t, d.Load(context.Background()))
	return d, b
}

func TestUnreadCountsAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	d, b := newDirectory(t)

	d.RecordInbound(inbound("b", "one"), false)
	c := d.RecordInbound(inbound("b", "two"), false)
	assert.Equal(t, 3, c.UnreadCount)
	assert.Equal(t, "two", c.LastMessagePreview)

	c = d.RecordInbound(inbound("a", "focused"), true)
	assert.Zero(t, c.UnreadCount)

	b.markErr = apperr.Transport("PATCH", errors.New("down"))
	require.Error(t, d.Acknowledge(ctx, "b"))
	got, _ := d.Get("b")
	assert.Equal(t, 3, got.UnreadCount, "unread stays until the acknowledgement completes")

	b.markErr = nil
	require.NoError(t, d.Acknowledge(ctx, "b"))
	got, _ = d.Get("b")
	assert.Zero(t, got.UnreadCount)
	assert.Equal(t, []string{"b"}, b.marked)
}

func TestDirectoryOrdersByActivity(t *testing.T) {
	d, _ := newDirectory(t)

	d.RecordInbound(inbound("b", "hey"), false)
	d.RecordInbound(inbound("c", "new here"), false)
	d.RecordOutbound(domain.ConversationMessage{SenderID: "me", ReceiverID: "a", Kind: domain.MessageKindImage})

	list := d.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, "[image]", list[0].LastMessagePreview)
	assert.Equal(t, "Sender c", list[1].DisplayName)
	assert.Equal(t, 1, list[1].UnreadCount)
}

func TestSetOnlineAndReset(t *testing.T) {
	d, _ := newDirectory(t)
	d.SetOnline("a", true)
	d.SetOnline("ghost", true)

	a, ok := d.Get("a")
	require.True(t, ok)
	assert.True(t, a.Online)
	_, ok = d.Get("ghost")
	assert.False(t, ok)

	d.Reset()
	assert.Empty(t, d.List())
}
