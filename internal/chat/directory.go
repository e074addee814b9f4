package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

const previewLength = 80

// Directory is the contact list with unread counters. Contacts are kept most
// recently active first.
type Directory struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.RWMutex
	contacts []*domain.Contact
}

// NewDirectory creates an empty directory.
func NewDirectory(b Backend, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{backend: b, logger: logger.With(zap.String("component", "contacts"))}
}

// Load replaces the directory with the backend's contact list.
func (d *Directory) Load(ctx context.Context) error {
	contacts, err := d.backend.Contacts(ctx)
	if err != nil {
		d.logger.Warn("failed to load contacts", zap.Error(err))
		return err
	}

	list := make([]*domain.Contact, 0, len(contacts))
	for i := range contacts {
		c := contacts[i]
		list = append(list, &c)
	}

	d.mu.Lock()
	d.contacts = list
	d.mu.Unlock()
	return nil
}

// List returns a copy of the contacts.
func (d *Directory) List() []domain.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Contact, len(d.contacts))
	for i, c := range d.contacts {
		out[i] = *c
	}
	return out
}

// Get returns one contact.
func (d *Directory) Get(id string) (domain.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexLocked(id); i >= 0 {
		return *d.contacts[i], true
	}
	return domain.Contact{}, false
}

// RecordInbound updates the sender's preview and, unless their conversation
// is focused, increments its unread count.
func (d *Directory) RecordInbound(msg protocol.MessagePayload, focused bool) domain.Contact {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.touchLocked(msg.SenderID)
	if c.DisplayName == "" {
		c.DisplayName = msg.SenderName
	}
	c.LastMessagePreview = preview(msg.ConversationMessage)
	if !focused {
		c.UnreadCount++
	}
	return *c
}

// RecordOutbound updates the receiver's preview.
func (d *Directory) RecordOutbound(msg domain.ConversationMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.touchLocked(msg.ReceiverID)
	c.LastMessagePreview = preview(msg)
}

// Acknowledge tells the backend the conversation with id was read and, once
// it succeeds, resets the unread count.
func (d *Directory) Acknowledge(ctx context.Context, id string) error {
	if err := d.backend.MarkRead(ctx, id); err != nil {
		d.logger.Warn("failed to acknowledge conversation", zap.String("counterpart_id", id), zap.Error(err))
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(id); i >= 0 {
		d.contacts[i].UnreadCount = 0
	}
	return nil
}

// SetOnline updates a known contact's online flag.
func (d *Directory) SetOnline(id string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(id); i >= 0 {
		d.contacts[i].Online = online
	}
}

// Reset drops every contact.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = nil
}

// touchLocked moves id to the front, creating it if unknown.
func (d *Directory) touchLocked(id string) *domain.Contact {
	i := d.indexLocked(id)
	var c *domain.Contact
	if i >= 0 {
		c = d.contacts[i]
		copy(d.contacts[1:i+1], d.contacts[:i])
		d.contacts[0] = c
		return c
	}
	c = &domain.Contact{ID: id}
	d.contacts = append([]*domain.Contact{c}, d.contacts...)
	return c
}

func (d *Directory) indexLocked(id string) int {
	for i, c := range d.contacts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func preview(msg domain.ConversationMessage) string {
	switch msg.Kind {
	case domain.MessageKindImage:
		return "[image]"
	case domain.MessageKindFile:
		return "[file]"
	}
	r := []rune(msg.Content)
	if len(r) > previewLength {
		return string(r[:previewLength]) + "..."
	}
	return msg.Content
}
