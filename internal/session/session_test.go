package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/chat"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/notify"
	"github.com/farmpulse/storepulse/internal/protocol"
)

var (
	owner   = domain.Identity{UserID: "owner-1", Name: "Njeri", Role: domain.RoleOwner}
	manager = domain.Identity{UserID: "mgr-3", Name: "Otieno", Role: domain.RoleManager, BranchID: 3}
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

func TestOwnerNewSaleScenario(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)

	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 3, Total: 980})

	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)
	assert.Equal(t, "New Sale Recorded", s.Notifications()[0].Title)
	assert.Equal(t, domain.NotificationKindSale, s.Notifications()[0].Kind)
}

func TestBranchViewerOnlySeesOwnBranch(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, manager, 0)
	h.start(t, s)

	h.relay.Emit(t, manager.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 1})
	h.relay.Emit(t, manager.UserID, protocol.EventDeliveryUpdated, protocol.DeliveryPayload{DeliveryID: "d-1", BranchID: 3, Status: "in_transit"})
	h.relay.Emit(t, manager.UserID, protocol.EventNewExpense, protocol.ExpensePayload{ExpenseID: "e-1", BranchID: 2, Amount: 40})
	h.relay.Emit(t, manager.UserID, protocol.EventInventoryUpdated, protocol.InventoryPayload{ProductName: "Feed", BranchID: 3, Quantity: 12})

	require.Eventually(t, func() bool { return len(s.Notifications()) == 2 }, waitFor, tick)
	// Frames arrive in order; the unscoped ones before the last were already dropped.
	titles := []string{s.Notifications()[0].Title, s.Notifications()[1].Title}
	assert.Equal(t, []string{notify.TitleInventoryUpdated, notify.TitleDeliveryUpdated}, titles)
}

func TestConversationFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	history := []domain.ConversationMessage{
		{ID: "h1", SenderID: "peer-7", ReceiverID: manager.UserID, Content: "stock count done", Kind: domain.MessageKindText, ReadFlag: true},
	}
	h.backend.setHistory("peer-7", history)
	s := h.newSession(t, manager, 0)
	h.start(t, s)
	p := h.connectPeer(t, "peer-7")

	require.NoError(t, s.OpenConversation(ctx, "peer-7"))
	assert.Equal(t, []string{"peer-7"}, h.backend.markedIDs())

	var receipt protocol.ReadPayload
	require.NoError(t, p.expect(protocol.EventMessagesRead).Decode(&receipt))
	assert.Equal(t, manager.UserID, receipt.ReaderID)
	assert.Equal(t, "peer-7", receipt.SenderID)

	current, msgs := s.Conversation()
	assert.Equal(t, "peer-7", current)
	assert.Equal(t, history, msgs)

	sent, err := s.SendMessage(ctx, chat.Draft{ReceiverID: "peer-7", Content: "thanks, send the sheet"})
	require.NoError(t, err)
	var delivered protocol.MessagePayload
	require.NoError(t, p.expect(protocol.EventReceiveMessage).Decode(&delivered))
	assert.Equal(t, sent.ID, delivered.ID)
	assert.Equal(t, manager.Name, delivered.SenderName)

	p.send(protocol.EventSendMessage, protocol.MessagePayload{ConversationMessage: domain.ConversationMessage{
		ID: "m-2", ReceiverID: manager.UserID, Content: "sent", Kind: domain.MessageKindText,
	}})
	require.Eventually(t, func() bool { _, m := s.Conversation(); return len(m) == 3 }, waitFor, tick)
	_, msgs = s.Conversation()
	assert.Equal(t, "m-2", msgs[2].ID)
	assert.False(t, msgs[2].ReadFlag)
	assert.False(t, msgs[1].ReadFlag)
	assert.Empty(t, s.Notifications(), "focused conversation raises no notification")

	p.send(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{ReaderID: "peer-7", CounterpartID: manager.UserID})
	require.Eventually(t, func() bool { _, m := s.Conversation(); return m[1].ReadFlag }, waitFor, tick)
}

func TestUnfocusedMessageNotifies(t *testing.T) {
	h := newHarness(t)
	h.backend.setContacts([]domain.Contact{{ID: "peer-7", DisplayName: "Wambui", Role: domain.RoleStaff}})
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	p := h.connectPeer(t, "peer-7")

	p.send(protocol.EventSendMessage, protocol.MessagePayload{
		ConversationMessage: domain.ConversationMessage{ReceiverID: owner.UserID, Content: "truck left", Kind: domain.MessageKindText},
		SenderName:          "Wambui",
	})

	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)
	n := s.Notifications()[0]
	assert.Equal(t, notify.TitleNewMessage, n.Title)
	assert.Equal(t, "Wambui: truck left", n.Message)

	contacts := s.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, 1, contacts[0].UnreadCount)
	assert.True(t, contacts[0].Online)

	require.NoError(t, s.OpenConversation(context.Background(), "peer-7"))
	assert.Zero(t, s.Contacts()[0].UnreadCount)
}

func TestTypingExpires(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 100*time.Millisecond)
	h.start(t, s)
	p := h.connectPeer(t, "peer-7")

	p.send(protocol.EventTyping, protocol.TypingPayload{ReceiverID: owner.UserID})
	require.Eventually(t, func() bool { return s.Presence("peer-7").IsTyping }, waitFor, tick)
	require.Eventually(t, func() bool { return !s.Presence("peer-7").IsTyping }, waitFor, tick)
	assert.True(t, s.Presence("peer-7").IsOnline)
}

func TestSetTypingReachesPeer(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	p := h.connectPeer(t, "peer-7")

	require.NoError(t, s.SetTyping("peer-7", true))
	var typing protocol.TypingPayload
	require.NoError(t, p.expect(protocol.EventTyping).Decode(&typing))
	assert.Equal(t, owner.UserID, typing.SenderID)

	require.NoError(t, s.SetTyping("peer-7", false))
	p.expect(protocol.EventStopTyping)
}

func TestStartOnlyOnce(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	assert.True(t, apperr.Is(s.Start(context.Background()), apperr.CodeConflict))
}

func TestCloseStopsUpdatesAndKeepsNotifications(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)

	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 1})
	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)

	require.NoError(t, s.Close())
	assert.Equal(t, domain.ChannelStateDisconnected, s.State())
	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return !h.relay.Hub.IsOnline(owner.UserID) }, waitFor, tick)

	// Reopening as the same identity restores the persisted list.
	again := h.newSession(t, owner, 0)
	h.start(t, again)
	assert.Len(t, again.Notifications(), 1)

	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-2", BranchID: 1})
	require.Eventually(t, func() bool { return again.UnreadCount() == 2 }, waitFor, tick)
	assert.Equal(t, 1, s.UnreadCount(), "closed session no longer receives events")
}

func TestLogoutClearsIdentityOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s := h.newSession(t, owner, 0)
	h.start(t, s)
	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 3})
	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)
	require.NoError(t, s.Close())

	m := h.newSession(t, manager, 0)
	assert.Empty(t, m.Notifications(), "another identity never sees the owner's records")
	h.start(t, m)
	h.relay.Emit(t, manager.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-2", BranchID: 3})
	require.Eventually(t, func() bool { return m.UnreadCount() == 1 }, waitFor, tick)
	require.NoError(t, m.Logout(ctx))

	assert.Empty(t, h.newSession(t, manager, 0).Notifications())
	assert.Len(t, h.newSession(t, owner, 0).Notifications(), 1)
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 3})
	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)

	var forced atomic.Int32
	s.OnLogout(func(err error) {
		assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
		forced.Add(1)
	})

	h.backend.deny()
	err := s.OpenConversation(context.Background(), "peer-7")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	assert.Equal(t, int32(1), forced.Load())
	assert.Equal(t, domain.ChannelStateDisconnected, s.State())
	assert.Empty(t, s.Notifications())
	assert.Empty(t, h.newSession(t, owner, 0).Notifications())

	_, err = s.SendMessage(context.Background(), chat.Draft{ReceiverID: "peer-7", Content: "hello"})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	assert.Equal(t, int32(1), forced.Load(), "forced logout runs once")
}

func TestLogoutEndsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	h.relay.Emit(t, owner.UserID, protocol.EventNewSale, protocol.SalePayload{SaleID: "s-1", BranchID: 3})
	require.Eventually(t, func() bool { return s.UnreadCount() == 1 }, waitFor, tick)

	var calls atomic.Int32
	s.OnLogout(func(reason error) {
		assert.NoError(t, reason)
		calls.Add(1)
	})

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, int32(1), calls.Load())

	err := s.OpenConversation(ctx, "peer-7")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	current, msgs := s.Conversation()
	assert.Empty(t, current)
	assert.Empty(t, msgs)
	assert.Empty(t, h.backend.markedIDs(), "no REST call with the old token")

	assert.True(t, apperr.Is(s.MarkAllRead(ctx), apperr.CodeUnauthorized))
	assert.True(t, apperr.Is(s.ClearNotifications(ctx), apperr.CodeUnauthorized))
	assert.True(t, apperr.Is(s.SetTyping("peer-7", true), apperr.CodeUnauthorized))
	_, err = s.SendMessage(ctx, chat.Draft{ReceiverID: "peer-7", Content: "still there?"})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, int32(1), calls.Load(), "logout hooks run once")
	assert.Empty(t, h.newSession(t, owner, 0).Notifications())
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.newSession(t, owner, 0)
	h.start(t, s)
	require.NoError(t, s.Close())

	assert.True(t, apperr.Is(s.OpenConversation(ctx, "peer-7"), apperr.CodeConflict))
	assert.True(t, apperr.Is(s.MarkAllRead(ctx), apperr.CodeConflict))
	assert.True(t, apperr.Is(s.SetTyping("peer-7", false), apperr.CodeConflict))
}
