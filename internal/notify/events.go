package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

// Notification titles
const (
	TitleNewSale          = "New Sale Recorded"
	TitleNewDelivery      = "New Delivery"
	TitleDeliveryUpdated  = "Delivery Updated"
	TitleInventoryUpdated = "Inventory Updated"
	TitleNewExpense       = "New Expense"
	TitleNewMessage       = "New Message"
)

// BusinessEvents lists the realtime events that become notifications.
var BusinessEvents = []string{
	protocol.EventNewSale,
	protocol.EventNewDelivery,
	protocol.EventDeliveryUpdated,
	protocol.EventInventoryUpdated,
	protocol.EventNewExpense,
}

// ErrNotBusinessEvent is returned by Normalize for events that are not notifications.
var ErrNotBusinessEvent = errors.New("not a business event")

const previewLength = 60

// Normalize decodes a business event envelope.
func Normalize(env *protocol.Envelope) (domain.BusinessEvent, error) {
	ev := domain.BusinessEvent{Name: env.Event, OccurredAt: envelopeTime(env)}

	switch env.Event {
	case protocol.EventNewSale:
		var p protocol.SalePayload
		if err := env.Decode(&p); err != nil {
			return ev, err
		}
		ev.Kind = domain.NotificationKindSale
		ev.Title = TitleNewSale
		ev.BranchID = p.BranchID
		ev.Message = fmt.Sprintf("Sale %s of %.2f at %s", p.SaleID, p.Total, branchLabel(p.BranchName, p.BranchID))
		if p.SoldBy != "" {
			ev.Message += " by " + p.SoldBy
		}

	case protocol.EventNewDelivery, protocol.EventDeliveryUpdated:
		var p protocol.DeliveryPayload
		if err := env.Decode(&p); err != nil {
			return ev, err
		}
		ev.Kind = domain.NotificationKindDelivery
		ev.BranchID = p.BranchID
		if env.Event == protocol.EventNewDelivery {
			ev.Title = TitleNewDelivery
			ev.Message = fmt.Sprintf("Delivery %s scheduled from %s", p.DeliveryID, branchLabel(p.BranchName, p.BranchID))
			if p.Destination != "" {
				ev.Message += " to " + p.Destination
			}
		} else {
			ev.Title = TitleDeliveryUpdated
			ev.Message = fmt.Sprintf("Delivery %s is now %s", p.DeliveryID, p.Status)
		}

	case protocol.EventInventoryUpdated:
		var p protocol.InventoryPayload
		if err := env.Decode(&p); err != nil {
			return ev, err
		}
		ev.Kind = domain.NotificationKindInfo
		ev.Title = TitleInventoryUpdated
		ev.BranchID = p.BranchID
		ev.Message = fmt.Sprintf("%s stock at %s is now %d", p.ProductName, branchLabel(p.BranchName, p.BranchID), p.Quantity)

	case protocol.EventNewExpense:
		var p protocol.ExpensePayload
		if err := env.Decode(&p); err != nil {
			return ev, err
		}
		ev.Kind = domain.NotificationKindInfo
		ev.Title = TitleNewExpense
		ev.BranchID = p.BranchID
		ev.Message = fmt.Sprintf("Expense of %.2f recorded at %s", p.Amount, branchLabel(p.BranchName, p.BranchID))
		if p.Category != "" {
			ev.Message += " (" + p.Category + ")"
		}

	default:
		return ev, fmt.Errorf("%s: %w", env.Event, ErrNotBusinessEvent)
	}
	return ev, nil
}

// MessageEvent builds the notification for a chat message that arrived
// while its conversation was not focused.
func MessageEvent(msg protocol.MessagePayload, viewerID string) domain.BusinessEvent {
	from := msg.SenderName
	if from == "" {
		from = msg.SenderID
	}
	body := msg.Content
	switch msg.Kind {
	case domain.MessageKindImage:
		body = "sent an image"
	case domain.MessageKindFile:
		body = "sent a file"
	}
	if r := []rune(body); len(r) > previewLength {
		body = string(r[:previewLength]) + "..."
	}
	occurred := msg.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return domain.BusinessEvent{
		Name:        protocol.EventReceiveMessage,
		Kind:        domain.NotificationKindInfo,
		Title:       TitleNewMessage,
		Message:     from + ": " + body,
		RecipientID: viewerID,
		OccurredAt:  occurred,
	}
}

func branchLabel(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("branch %d", id)
}

func envelopeTime(env *protocol.Envelope) time.Time {
	if env.Ts > 0 {
		return time.UnixMilli(env.Ts).UTC()
	}
	return time.Now().UTC()
}
