// Package protocol defines the realtime event protocol between the session core and the backend.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/farmpulse/storepulse/internal/domain"
)

// Events from backend to client
const (
	EventNewSale          = "newSale"
	EventDeliveryUpdated  = "deliveryUpdated"
	EventNewDelivery      = "newDelivery"
	EventInventoryUpdated = "inventoryUpdated"
	EventNewExpense       = "newExpense"
	EventReceiveMessage   = "receiveMessage"
	EventUserStatusUpdate = "userStatusUpdate"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventMessagesRead     = "messagesRead"
	EventError            = "error"
)

// Events from client to backend
const (
	EventRegister    = "register"
	EventSendMessage = "sendMessage"
	EventMarkAsRead  = "markAsRead"
)

// Envelope is the frame every realtime event travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts"`
}

// NewEnvelope marshals payload into an envelope stamped with the current time.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Event: event, Ts: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// RegisterPayload is sent once after connecting to bind the socket to an identity.
type RegisterPayload struct {
	UserID   string      `json:"user_id"`
	Role     domain.Role `json:"role"`
	BranchID int64       `json:"branch_id,omitempty"`
}

// SalePayload accompanies newSale.
type SalePayload struct {
	SaleID     string  `json:"sale_id"`
	BranchID   int64   `json:"branch_id"`
	BranchName string  `json:"branch_name,omitempty"`
	Total      float64 `json:"total"`
	SoldBy     string  `json:"sold_by,omitempty"`
}

// DeliveryPayload accompanies newDelivery and deliveryUpdated.
type DeliveryPayload struct {
	DeliveryID  string `json:"delivery_id"`
	BranchID    int64  `json:"branch_id"`
	BranchName  string `json:"branch_name,omitempty"`
	Status      string `json:"status,omitempty"`
	Destination string `json:"destination,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
}

// InventoryPayload accompanies inventoryUpdated.
type InventoryPayload struct {
	ProductName string `json:"product_name"`
	BranchID    int64  `json:"branch_id"`
	BranchName  string `json:"branch_name,omitempty"`
	Quantity    int    `json:"quantity"`
}

// ExpensePayload accompanies newExpense.
type ExpensePayload struct {
	ExpenseID  string  `json:"expense_id"`
	BranchID   int64   `json:"branch_id"`
	BranchName string  `json:"branch_name,omitempty"`
	Category   string  `json:"category,omitempty"`
	Amount     float64 `json:"amount"`
}

// MessagePayload accompanies receiveMessage and sendMessage.
type MessagePayload struct {
	domain.ConversationMessage
	SenderName string `json:"sender_name,omitempty"`
}

// StatusPayload accompanies userStatusUpdate.
type StatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// TypingPayload accompanies typing and stopTyping in both directions.
type TypingPayload struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// ReadPayload accompanies messagesRead: ReaderID has read the messages SenderID sent them.
type ReadPayload struct {
	ReaderID string `json:"reader_id"`
	SenderID string `json:"sender_id"`
}

// MarkAsReadPayload is sent when the viewer focuses a conversation.
type MarkAsReadPayload struct {
	ReaderID      string `json:"reader_id"`
	CounterpartID string `json:"counterpart_id"`
}

// ErrorPayload is sent by the backend when it rejects a frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeNotRegistered  = "not_registered"
)
