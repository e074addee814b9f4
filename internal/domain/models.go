package domain

import (
	"fmt"
	"time"
)

// Identity is the authenticated user a session belongs to.
type Identity struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role"`
	BranchID int64  `json:"branch_id,omitempty"`
}

// SessionKey identifies the persisted notification list of one identity.
type SessionKey string

// KeyFor derives the session key for an identity. The key depends only on
// user id and role.
func KeyFor(id Identity) SessionKey {
	return SessionKey(fmt.Sprintf("notifications:%s:%s", id.UserID, id.Role))
}

// NotificationRecord is a business event surfaced to the user.
type NotificationRecord struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}

// ConversationMessage is a chat message between two identities.
type ConversationMessage struct {
	ID            string      `json:"id"`
	SenderID      string      `json:"sender_id"`
	ReceiverID    string      `json:"receiver_id"`
	Content       string      `json:"content"`
	CreatedAt     time.Time   `json:"created_at"`
	ReadFlag      bool        `json:"read"`
	Kind          MessageKind `json:"kind"`
	AttachmentRef string      `json:"attachment_ref,omitempty"`
}

// Counterpart returns the other participant of the message as seen by viewerID.
func (m ConversationMessage) Counterpart(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// PresenceState is the ephemeral online/typing status of a counterpart.
type PresenceState struct {
	IsOnline        bool      `json:"is_online"`
	IsTyping        bool      `json:"is_typing"`
	TypingExpiresAt time.Time `json:"typing_expires_at,omitempty"`
}

// Contact is a chat counterpart as listed in the contact directory.
type Contact struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display_name"`
	Role               Role   `json:"role"`
	Online             bool   `json:"online"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
	UnreadCount        int    `json:"unread_count"`
}

// BusinessEvent is an inbound realtime event normalized for the notification reducer.
type BusinessEvent struct {
	Name        string           `json:"name"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	BranchID    int64            `json:"branch_id,omitempty"`
	RecipientID string           `json:"recipient_id,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}
