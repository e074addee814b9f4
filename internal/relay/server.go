package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/config"
	"github.com/farmpulse/storepulse/internal/protocol"
)

// Server handles relay WebSocket connections.
type Server struct {
	cfg      *config.RelayConfig
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new relay WebSocket server.
func NewServer(cfg *config.RelayConfig, h *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With(zap.String("component", "relay_ws")),
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if s.cfg.Token != "" {
		token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if token != s.cfg.Token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", zap.Error(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming frames to the matching handler.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON frame")
		return
	}

	if env.Event != protocol.EventRegister && conn.UserID == "" {
		s.sendError(conn, protocol.ErrorCodeNotRegistered, "must send register first")
		return
	}

	switch env.Event {
	case protocol.EventRegister:
		s.handleRegister(conn, &env)
	case protocol.EventSendMessage:
		s.handleSendMessage(conn, &env)
	case protocol.EventTyping, protocol.EventStopTyping:
		s.handleTyping(conn, &env)
	case protocol.EventMarkAsRead:
		s.handleMarkAsRead(conn, &env)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown event: "+env.Event)
	}
}

func (s *Server) handleRegister(conn *Connection, env *protocol.Envelope) {
	var p protocol.RegisterPayload
	if err := env.Decode(&p); err != nil || p.UserID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid register payload")
		return
	}
	s.hub.BindUser(conn, p.UserID)
	s.logger.Info("user registered", zap.String("user_id", p.UserID), zap.String("role", string(p.Role)), zap.Int64("branch_id", p.BranchID))
}

func (s *Server) handleSendMessage(conn *Connection, env *protocol.Envelope) {
	var p protocol.MessagePayload
	if err := env.Decode(&p); err != nil || p.ReceiverID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid sendMessage payload")
		return
	}
	p.SenderID = conn.UserID
	if p.ID == "" {
		p.ID = "msg_" + uuid.New().String()[:8]
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.ReadFlag = false

	if err := s.hub.SendJSON(p.ReceiverID, protocol.EventReceiveMessage, p); err != nil {
		s.logger.Warn("failed to forward message", zap.Error(err))
	}
}

func (s *Server) handleTyping(conn *Connection, env *protocol.Envelope) {
	var p protocol.TypingPayload
	if err := env.Decode(&p); err != nil || p.ReceiverID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid "+env.Event+" payload")
		return
	}
	p.SenderID = conn.UserID
	if err := s.hub.SendJSON(p.ReceiverID, env.Event, p); err != nil {
		s.logger.Warn("failed to forward typing", zap.Error(err))
	}
}

func (s *Server) handleMarkAsRead(conn *Connection, env *protocol.Envelope) {
	var p protocol.MarkAsReadPayload
	if err := env.Decode(&p); err != nil || p.CounterpartID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid markAsRead payload")
		return
	}
	receipt := protocol.ReadPayload{ReaderID: conn.UserID, SenderID: p.CounterpartID}
	if err := s.hub.SendJSON(p.CounterpartID, protocol.EventMessagesRead, receipt); err != nil {
		s.logger.Warn("failed to forward read receipt", zap.Error(err))
	}
}

func (s *Server) sendError(conn *Connection, code, message string) {
	_ = s.hub.SendJSONToConnection(conn, protocol.EventError, protocol.ErrorPayload{Code: code, Message: message})
}
