package chat

import (
	"context"
	"sync"

	"github.com/farmpulse/storepulse/internal/backend"
	"github.com/farmpulse/storepulse/internal/domain"
)

type fakeBackend struct {
	mu         sync.Mutex
	history    map[string][]domain.ConversationMessage
	contacts   []domain.Contact
	sent       []backend.SendMessageRequest
	marked     []string
	historyErr error
	sendErr    error
	markErr    error
}

func (f *fakeBackend) History(_ context.Context, counterpartID string) ([]domain.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]domain.ConversationMessage, len(f.history[counterpartID]))
	copy(out, f.history[counterpartID])
	return out, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req backend.SendMessageRequest) (*domain.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &domain.ConversationMessage{ID: req.ID, ReceiverID: req.ReceiverID, Content: req.Content, Kind: req.Kind}, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, counterpartID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, counterpartID)
	return nil
}

func (f *fakeBackend) Contacts(context.Context) ([]domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Contact(nil), f.contacts...), nil
}

type emitted struct {
	event   string
	payload interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (f *fakeEmitter) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, emitted{event, payload})
	return nil
}
