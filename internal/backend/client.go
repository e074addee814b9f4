// Package backend is the REST client for the store backend's messaging API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/domain"
)

const maxErrorBody = 4096

// Client calls the backend with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(zap.String("component", "backend")),
	}
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	ID            string             `json:"id,omitempty"`
	ReceiverID    string             `json:"receiver_id"`
	Content       string             `json:"content"`
	Kind          domain.MessageKind `json:"kind"`
	AttachmentRef string             `json:"attachment_ref,omitempty"`
}

// History returns the full conversation with counterpartID, oldest first.
func (c *Client) History(ctx context.Context, counterpartID string) ([]domain.ConversationMessage, error) {
	var msgs []domain.ConversationMessage
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(counterpartID), nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.ConversationMessage{}
	}
	return msgs, nil
}

// SendMessage persists an outbound message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*domain.ConversationMessage, error) {
	var msg domain.ConversationMessage
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead acknowledges every message counterpartID sent the caller.
func (c *Client) MarkRead(ctx context.Context, counterpartID string) error {
	return c.do(ctx, http.MethodPatch, "/api/messages/read/"+url.PathEscape(counterpartID), nil, nil)
}

// Contacts lists the caller's chat counterparts.
func (c *Client) Contacts(ctx context.Context) ([]domain.Contact, error) {
	var contacts []domain.Contact
	if err := c.do(ctx, http.MethodGet, "/api/messages/contacts", nil, &contacts); err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	return contacts, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Validation("failed to marshal request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Internal("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return apperr.Transport(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method+" "+path, resp.StatusCode, bodyBytes)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apperr.Transport("failed to decode "+path+" response", err)
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	cause := fmt.Errorf("backend returned status %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Unauthorized(op, cause)
	case status == http.StatusNotFound:
		return apperr.NotFound(op, cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperr.Validation(op, cause)
	default:
		return apperr.Transport(op, cause)
	}
}
