// Package relaytest runs an in-process relay for tests.
package relaytest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/config"
	"github.com/farmpulse/storepulse/internal/relay"
)

// Relay is a running relay bound to an httptest server.
type Relay struct {
	Hub    *relay.Hub
	Server *httptest.Server
	WSURL  string
}

// Options tweaks the relay under test.
type Options struct {
	Token string
}

// Start runs a relay until the test ends.
func Start(t *testing.T, opts Options) *Relay {
	t.Helper()

	cfg := &config.RelayConfig{
		Token:          opts.Token,
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 65536,
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(zap.NewNop())
	go hub.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	relay.NewServer(cfg, hub, zap.NewNop()).RegisterRoutes(e)
	relay.NewAPI(hub, zap.NewNop()).RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &Relay{
		Hub:    hub,
		Server: srv,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// Emit posts an event through the relay's internal API.
func (r *Relay) Emit(t *testing.T, userID, event string, payload interface{}) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(relay.EmitRequest{UserID: userID, Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal emit request: %v", err)
	}

	resp, err := http.Post(r.Server.URL+"/internal/emit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("emit %s: %v", event, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emit %s: status %d", event, resp.StatusCode)
	}
}

// WaitOnline blocks until userID has registered or the deadline passes.
func (r *Relay) WaitOnline(t *testing.T, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Hub.IsOnline(userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never registered with relay", userID)
}

// Kick drops every connection of userID from the relay side.
func (r *Relay) Kick(t *testing.T, userID string) {
	t.Helper()
	if n := r.Hub.Kick(userID); n == 0 {
		t.Fatalf("no connections to kick for %s", userID)
	}
}
