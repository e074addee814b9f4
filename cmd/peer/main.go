// Package main is an interactive chat peer for the development relay. It
// registers as a user and lets a developer trade messages with a running pulse
// session.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/logger"
	"github.com/farmpulse/storepulse/internal/protocol"
)

// Peer is a registered relay connection.
type Peer struct {
	conn   *websocket.Conn
	userID string
	to     string
	done   chan struct{}
	log    *zap.Logger
}

// Dial connects to the relay and registers userID.
func Dial(addr, token, userID string, role domain.Role, log *zap.Logger) (*Peer, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	p := &Peer{conn: conn, userID: userID, done: make(chan struct{}), log: log}
	if err := p.emit(protocol.EventRegister, protocol.RegisterPayload{UserID: userID, Role: role}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	return p, nil
}

// Close closes the relay connection.
func (p *Peer) Close() error {
	close(p.done)
	return p.conn.Close()
}

func (p *Peer) emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return p.conn.WriteJSON(env)
}

// Send delivers a text message to the current counterpart.
func (p *Peer) Send(content string) error {
	if p.to == "" {
		return fmt.Errorf("no counterpart, use /to <user_id>")
	}
	msg := protocol.MessagePayload{ConversationMessage: domain.ConversationMessage{
		ID:         ulid.Make().String(),
		SenderID:   p.userID,
		ReceiverID: p.to,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Kind:       domain.MessageKindText,
	}}
	return p.emit(protocol.EventSendMessage, msg)
}

// Typing starts or stops the typing indicator at the counterpart.
func (p *Peer) Typing(on bool) error {
	if p.to == "" {
		return fmt.Errorf("no counterpart, use /to <user_id>")
	}
	event := protocol.EventStopTyping
	if on {
		event = protocol.EventTyping
	}
	return p.emit(event, protocol.TypingPayload{SenderID: p.userID, ReceiverID: p.to})
}

// Read acknowledges the counterpart's messages.
func (p *Peer) Read() error {
	if p.to == "" {
		return fmt.Errorf("no counterpart, use /to <user_id>")
	}
	return p.emit(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{ReaderID: p.userID, CounterpartID: p.to})
}

// ReadFrames prints frames from the relay until the connection ends.
func (p *Peer) ReadFrames() {
	for {
		select {
		case <-p.done:
			return
		default:
		}
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				p.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.log.Warn("malformed frame", zap.Error(err))
			continue
		}
		fmt.Printf("\n[%s] %s\n> ", env.Event, describe(&env))
	}
}

func describe(env *protocol.Envelope) string {
	switch env.Event {
	case protocol.EventReceiveMessage:
		var m protocol.MessagePayload
		if err := env.Decode(&m); err == nil {
			return fmt.Sprintf("%s: %s", m.SenderID, m.Content)
		}
	case protocol.EventUserStatusUpdate:
		var s protocol.StatusPayload
		if err := env.Decode(&s); err == nil {
			return fmt.Sprintf("%s online=%t", s.UserID, s.Online)
		}
	case protocol.EventMessagesRead:
		var r protocol.ReadPayload
		if err := env.Decode(&r); err == nil {
			return fmt.Sprintf("%s read your messages", r.ReaderID)
		}
	case protocol.EventTyping, protocol.EventStopTyping:
		var t protocol.TypingPayload
		if err := env.Decode(&t); err == nil {
			return t.SenderID
		}
	}
	return string(env.Data)
}

func main() {
	addr := flag.String("addr", "ws://localhost:8090/ws", "Relay WebSocket address")
	token := flag.String("token", "", "Relay bearer token")
	userID := flag.String("user", "peer-1", "User ID to register as")
	role := flag.String("role", string(domain.RoleStaff), "Role to register with")
	to := flag.String("to", "", "Initial counterpart user ID")
	flag.Parse()

	log := logger.Must("info", "development")
	defer log.Sync()

	fmt.Printf("Connecting to %s as %s...\n", *addr, *userID)

	peer, err := Dial(*addr, *token, *userID, domain.Role(*role), log)
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	defer peer.Close()
	peer.to = *to

	fmt.Println("Registered. Type a message and press Enter to send.")
	fmt.Println("Commands: /to <user_id>, /typing, /stop, /read, /quit")

	go peer.ReadFrames()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
		}
		if !scanner.Scan() {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		var err error
		switch {
		case input == "/quit":
			fmt.Println("Bye!")
			return
		case strings.HasPrefix(input, "/to "):
			peer.to = strings.TrimSpace(strings.TrimPrefix(input, "/to "))
			fmt.Printf("Talking to %s\n", peer.to)
		case input == "/typing":
			err = peer.Typing(true)
		case input == "/stop":
			err = peer.Typing(false)
		case input == "/read":
			err = peer.Read()
		default:
			err = peer.Send(input)
		}
		if err != nil {
			log.Warn("command failed", zap.Error(err))
		}
	}
}
