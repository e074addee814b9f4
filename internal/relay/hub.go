// Package relay is a development stand-in for the backend's realtime socket.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/protocol"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	mu     sync.Mutex
}

// Hub manages all relay connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Users maps user_id to set of connection IDs
	users map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *Outbound
	done       chan struct{}

	logger *zap.Logger
	mu     sync.RWMutex
}

// Outbound is a frame addressed to one user, or to everyone when UserID is empty.
type Outbound struct {
	UserID  string
	Exclude string
	Data    []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *Outbound, 256),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "relay_hub")),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", zap.String("conn_id", conn.ID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.UserID != "" && h.users[conn.UserID] != nil {
					delete(h.users[conn.UserID], conn.ID)
					if len(h.users[conn.UserID]) == 0 {
						delete(h.users, conn.UserID)
						h.fanoutLocked(statusFrame(conn.UserID, false))
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			h.fanoutLocked(msg)
			h.mu.RUnlock()
		}
	}
}

// fanoutLocked delivers msg; the caller holds h.mu.
func (h *Hub) fanoutLocked(msg *Outbound) {
	if msg == nil {
		return
	}
	deliver := func(conn *Connection) {
		select {
		case conn.Send <- msg.Data:
		default:
			h.logger.Warn("connection buffer full, dropping frame", zap.String("conn_id", conn.ID))
		}
	}

	if msg.UserID == "" {
		for _, conn := range h.connections {
			if conn.UserID == "" || conn.UserID == msg.Exclude {
				continue
			}
			deliver(conn)
		}
		return
	}
	for connID := range h.users[msg.UserID] {
		if conn, ok := h.connections[connID]; ok {
			deliver(conn)
		}
	}
}

// NewConnection wraps ws in an unregistered connection.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindUser binds a connection to a user and announces the user as online.
func (h *Hub) BindUser(conn *Connection, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.UserID != "" && h.users[conn.UserID] != nil {
		delete(h.users[conn.UserID], conn.ID)
		if len(h.users[conn.UserID]) == 0 {
			delete(h.users, conn.UserID)
		}
	}

	conn.UserID = userID
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]bool)
	}
	h.users[userID][conn.ID] = true

	online := statusFrame(userID, true)
	online.Exclude = userID
	h.fanoutLocked(online)
}

// SendJSON queues an event for one user, or every registered user when userID is empty.
func (h *Hub) SendJSON(userID, event string, payload interface{}) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &Outbound{UserID: userID, Data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// SendJSONToConnection writes an event to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, event string, payload interface{}) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetUserCount returns the number of registered users.
func (h *Hub) GetUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// IsOnline reports whether the user has at least one registered connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Kick closes every connection of userID and returns how many were closed.
func (h *Hub) Kick(userID string) int {
	h.mu.RLock()
	var conns []*Connection
	for connID := range h.users[userID] {
		if conn, ok := h.connections[connID]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
	return len(conns)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func statusFrame(userID string, online bool) *Outbound {
	data, _ := encodeFrame(protocol.EventUserStatusUpdate, protocol.StatusPayload{UserID: userID, Online: online})
	return &Outbound{Data: data, Exclude: userID}
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrHubStopped is returned when the hub loop has exited.
var ErrHubStopped = &HubStoppedError{}

// HubStoppedError represents a stopped hub.
type HubStoppedError struct{}

func (e *HubStoppedError) Error() string {
	return "relay hub stopped"
}
