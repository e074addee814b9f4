// Package domain defines the core domain models for the realtime session core.
package domain

// Role is the role carried by an authenticated identity.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleDriver  Role = "driver"
)

// Scoped reports whether the role only sees events of its own branch.
func (r Role) Scoped() bool {
	return r != RoleOwner
}

// NotificationKind classifies a notification record.
type NotificationKind string

const (
	NotificationKindSale     NotificationKind = "sale"
	NotificationKindDelivery NotificationKind = "delivery"
	NotificationKindInfo     NotificationKind = "info"
)

// MessageKind is the content kind of a conversation message.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// ChannelState is the lifecycle state of the realtime channel.
type ChannelState string

const (
	ChannelStateDisconnected ChannelState = "DISCONNECTED"
	ChannelStateConnecting   ChannelState = "CONNECTING"
	ChannelStateConnected    ChannelState = "CONNECTED"
)
