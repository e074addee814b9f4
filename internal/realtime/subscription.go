package realtime

import (
	"errors"
	"sync"
)

var (
	// ErrNotConnected is returned when emitting on a channel that is not connected.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrBufferFull is returned when the outbound queue is full.
	ErrBufferFull = errors.New("send buffer full")
)

// Subscription is the handle returned by Subscribe and OnStateChange.
type Subscription struct {
	ch       *Channel
	event    string
	id       uint64
	listener bool
	once     sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.ch.remove(s)
	})
}

// Group collects subscriptions so they can be cancelled together on teardown.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add records sub in the group.
func (g *Group) Add(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, sub)
}

// Len returns the number of live subscriptions in the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// UnsubscribeAll cancels every subscription in the group.
func (g *Group) UnsubscribeAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
