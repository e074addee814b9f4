// Package realtime provides the duplex event channel between a session and the backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
)

const sendBufferSize = 256

// Handler receives an inbound event. Handlers run on the channel's reader goroutine.
type Handler func(env *protocol.Envelope)

// Options configures a Channel.
type Options struct {
	URL            string
	Token          string
	DialTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	Logger         *zap.Logger
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 65536
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Channel is a single websocket connection owned by one authenticated session.
// It moves DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED exactly once
// and never reconnects; the backend is the source of truth for catch-up.
type Channel struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	state     domain.ChannelState
	started   bool
	closed    bool
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	handlers  map[string]map[uint64]Handler
	listeners map[uint64]func(domain.ChannelState)
	nextID    uint64

	writeMu  sync.Mutex
	doneOnce sync.Once
}

// NewChannel creates a disconnected channel.
func NewChannel(opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:      opts,
		logger:    opts.Logger.With(zap.String("component", "realtime")),
		state:     domain.ChannelStateDisconnected,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		handlers:  make(map[string]map[uint64]Handler),
		listeners: make(map[uint64]func(domain.ChannelState)),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the backend and registers the identity. It may be called once.
func (c *Channel) Connect(ctx context.Context, id domain.Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperr.Conflict("channel is closed")
	}
	if c.started {
		c.mu.Unlock()
		return apperr.Conflict("channel already started")
	}
	c.started = true
	c.mu.Unlock()

	c.transition(domain.ChannelStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.opts.URL, header)
	if err != nil {
		c.transition(domain.ChannelStateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return apperr.Unauthorized("realtime handshake rejected", err)
		}
		return apperr.Transport("dial realtime channel", err)
	}
	conn.SetReadLimit(c.opts.MaxMessageSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperr.Conflict("channel closed while connecting")
	}
	c.conn = conn
	c.mu.Unlock()

	c.transition(domain.ChannelStateConnected)

	go c.writePump(conn)
	go c.readPump(conn)

	if err := c.Emit(protocol.EventRegister, protocol.RegisterPayload{
		UserID:   id.UserID,
		Role:     id.Role,
		BranchID: id.BranchID,
	}); err != nil {
		return err
	}

	c.logger.Info("realtime channel connected", zap.String("user_id", id.UserID), zap.String("url", c.opts.URL))
	return nil
}

// Subscribe registers handler for event until the subscription is cancelled
// or the channel is closed.
func (c *Channel) Subscribe(event string, handler Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{ch: c, event: event, id: c.nextID}
	if c.closed {
		return sub
	}
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][sub.id] = handler
	return sub
}

// OnStateChange registers fn to be called on every state transition.
func (c *Channel) OnStateChange(fn func(domain.ChannelState)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{ch: c, id: c.nextID, listener: true}
	if !c.closed {
		c.listeners[sub.id] = fn
	}
	return sub
}

// HandlerCount returns the number of registered event handlers.
func (c *Channel) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

// Emit sends an event to the backend. It fails unless the channel is connected.
func (c *Channel) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	connected := c.state == domain.ChannelStateConnected
	c.mu.Unlock()
	if !connected {
		return apperr.Transport("emit "+event, ErrNotConnected)
	}

	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return apperr.Validation("encode "+event, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperr.Validation("encode "+event, err)
	}

	// done may close before the read pump reports DISCONNECTED; the write
	// pump is gone by then and a queued frame would be lost silently.
	select {
	case <-c.done:
		return apperr.Transport("emit "+event, ErrNotConnected)
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return apperr.Transport("emit "+event, ErrNotConnected)
	default:
		return apperr.Transport("emit "+event, ErrBufferFull)
	}
}

// Close tears the channel down and deregisters every handler. It is safe to
// call more than once and from inside a handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handlers = make(map[string]map[uint64]Handler)
	conn := c.conn
	c.mu.Unlock()

	c.stopPumps()
	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"))
		c.writeMu.Unlock()
		// the read pump may already have closed it
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	c.transition(domain.ChannelStateDisconnected)

	c.mu.Lock()
	c.listeners = make(map[uint64]func(domain.ChannelState))
	c.mu.Unlock()
	return err
}

func (c *Channel) stopPumps() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Channel) transition(next domain.ChannelState) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	fns := make([]func(domain.ChannelState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("channel state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	for _, fn := range fns {
		fn(next)
	}
}

// readPump reads frames until the connection fails or is closed.
func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		c.stopPumps()
		conn.Close()
		c.transition(domain.ChannelStateDisconnected)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.logger.Warn("realtime channel dropped", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		if env.Event == protocol.EventError {
			var p protocol.ErrorPayload
			_ = env.Decode(&p)
			c.logger.Warn("backend rejected frame", zap.String("code", p.Code), zap.String("message", p.Message))
		}
		c.dispatch(&env)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("failed to write frame", zap.Error(err))
				conn.Close()
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(env *protocol.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		if c.isClosed() {
			return
		}
		h(env)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) remove(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub.listener {
		delete(c.listeners, sub.id)
		return
	}
	if hs, ok := c.handlers[sub.event]; ok {
		delete(hs, sub.id)
		if len(hs) == 0 {
			delete(c.handlers, sub.event)
		}
	}
}
