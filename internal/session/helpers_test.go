package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/backend"
	"github.com/farmpulse/storepulse/internal/domain"
	"github.com/farmpulse/storepulse/internal/protocol"
	"github.com/farmpulse/storepulse/internal/realtime"
	"github.com/farmpulse/storepulse/internal/relay/relaytest"
	"github.com/farmpulse/storepulse/internal/sessionstore"
)

// fakeBackend serves the messaging REST API from memory.
type fakeBackend struct {
	mu           sync.Mutex
	history      map[string][]domain.ConversationMessage
	contacts     []domain.Contact
	marked       []string
	unauthorized bool
	srv          *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{history: map[string][]domain.ConversationMessage{}}

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.mu.Lock()
			denied := f.unauthorized
			f.mu.Unlock()
			if denied {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "session expired"})
			}
			return next(c)
		}
	})
	e.GET("/api/messages/contacts", func(c echo.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		return c.JSON(http.StatusOK, f.contacts)
	})
	e.GET("/api/messages/:counterpartId", func(c echo.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		msgs := f.history[c.Param("counterpartId")]
		if msgs == nil {
			msgs = []domain.ConversationMessage{}
		}
		return c.JSON(http.StatusOK, msgs)
	})
	e.POST("/api/messages", func(c echo.Context) error {
		var req backend.SendMessageRequest
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		return c.JSON(http.StatusCreated, domain.ConversationMessage{ID: req.ID, ReceiverID: req.ReceiverID, Content: req.Content, Kind: req.Kind})
	})
	e.PATCH("/api/messages/read/:counterpartId", func(c echo.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.marked = append(f.marked, c.Param("counterpartId"))
		return c.NoContent(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(e)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) setHistory(counterpartID string, msgs []domain.ConversationMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[counterpartID] = msgs
}

func (f *fakeBackend) setContacts(contacts []domain.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = contacts
}

func (f *fakeBackend) deny() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthorized = true
}

func (f *fakeBackend) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

type harness struct {
	relay   *relaytest.Relay
	backend *fakeBackend
	store   *sessionstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		relay:   relaytest.Start(t, relaytest.Options{}),
		backend: newFakeBackend(t),
		store:   sessionstore.New(sessionstore.NewMemoryBackend(), zap.NewNop()),
	}
}

func (h *harness) newSession(t *testing.T, id domain.Identity, typingTimeout time.Duration) *Session {
	t.Helper()
	ch := realtime.NewChannel(realtime.Options{
		URL:          h.relay.WSURL,
		DialTimeout:  2 * time.Second,
		PingInterval: time.Second,
		WriteTimeout: time.Second,
		ReadTimeout:  5 * time.Second,
	})
	s := New(context.Background(), Deps{
		Identity:      id,
		Store:         h.store,
		Channel:       ch,
		Backend:       backend.NewClient(h.backend.srv.URL, "tok", time.Second, zap.NewNop()),
		TypingTimeout: typingTimeout,
		Logger:        zap.NewNop(),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (h *harness) start(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	h.relay.WaitOnline(t, s.Identity().UserID)
}

// peer is a raw relay client playing the counterpart.
type peer struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan *protocol.Envelope
}

func (h *harness) connectPeer(t *testing.T, userID string) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.relay.WSURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &peer{t: t, conn: conn, events: make(chan *protocol.Envelope, 64)}
	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			p.events <- &env
		}
	}()

	p.send(protocol.EventRegister, protocol.RegisterPayload{UserID: userID, Role: domain.RoleStaff})
	h.relay.WaitOnline(t, userID)
	return p
}

func (p *peer) send(event string, payload interface{}) {
	p.t.Helper()
	env, err := protocol.NewEnvelope(event, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(env))
}

func (p *peer) expect(event string) *protocol.Envelope {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-p.events:
			if env.Event == event {
				return env
			}
		case <-deadline:
			p.t.Fatalf("peer never received %s", event)
			return nil
		}
	}
}
