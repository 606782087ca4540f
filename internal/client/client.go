// Package client provides an HTTP client for the vserve portal API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// Client talks to a running portal server as one signed-in user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the API rooted at baseURL.
// If baseURL is empty, uses VSERVE_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via VSERVE_CLIENT_TIMEOUT (default 60s, the
// server's write timeout for assistant replies).
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("VSERVE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 60 * time.Second
	if t := os.Getenv("VSERVE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	// Reason and TicketID are set when an approval needs a manual recipient.
	Reason   string `json:"reason,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("server error %d: %s (%s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// NeedsRecipient reports whether err is an approval that failed because the
// owner's address could not be resolved.
func NeedsRecipient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && apiErr.Reason != ""
}

// do sends a JSON request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES (matching the API responses)
// =============================================================================

// Ticket is a ticket with its countdown as of the response.
type Ticket struct {
	models.Ticket
	Remaining tickets.Remaining `json:"remaining"`
}

// Sessions is the caller's chat sessions and the active one.
type Sessions struct {
	Sessions models.ChatSessionSet `json:"sessions"`
	Active   string                `json:"active,omitempty"`
}

// MessageResult is the assistant's reply and the updated sessions.
type MessageResult struct {
	Response    string                `json:"response"`
	Sessions    models.ChatSessionSet `json:"sessions"`
	Active      string                `json:"active"`
	Stage       string                `json:"stage"`
	Ticket      *models.Ticket        `json:"ticket,omitempty"`
	TicketError string                `json:"ticket_error,omitempty"`
}

// Stats are ticket counts per status.
type Stats struct {
	tickets.Counts
	Total int `json:"total"`
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ListChats returns the caller's chat sessions.
func (c *Client) ListChats(ctx context.Context) (*Sessions, error) {
	var out Sessions
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage asks the assistant and records the exchange. An empty
// sessionID starts a new session.
func (c *Client) SendMessage(ctx context.Context, sessionID, query string) (*MessageResult, error) {
	var out MessageResult
	err := c.do(ctx, http.MethodPost, "/api/chats/messages",
		map[string]string{"session_id": sessionID, "query": query}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// TICKET OPERATIONS
// =============================================================================

// ListTickets returns the tickets visible to the caller.
func (c *Client) ListTickets(ctx context.Context) ([]Ticket, error) {
	var out []Ticket
	if err := c.do(ctx, http.MethodGet, "/api/tickets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FileTicket files a ticket as the caller.
func (c *Client) FileTicket(ctx context.Context, req tickets.Request) (*models.Ticket, error) {
	var out models.Ticket
	if err := c.do(ctx, http.MethodPost, "/api/tickets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve emails the owner and moves the ticket to In Progress. A non-empty
// recipient overrides the owner's address.
func (c *Client) Approve(ctx context.Context, id, recipient string) (*tickets.Approval, error) {
	var out tickets.Approval
	var body any
	if recipient != "" {
		body = map[string]string{"recipient": recipient}
	}
	if err := c.do(ctx, http.MethodPost, "/api/tickets/"+url.PathEscape(id)+"/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetStatus sets a ticket's status.
func (c *Client) SetStatus(ctx context.Context, id string, status models.TicketStatus) error {
	return c.do(ctx, http.MethodPut, "/api/tickets/"+url.PathEscape(id)+"/status",
		map[string]string{"status": string(status)}, nil)
}

// Disapprove deletes a ticket.
func (c *Client) Disapprove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tickets/"+url.PathEscape(id), nil, nil)
}

// Stats returns ticket counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/tickets/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// LIVE TICKET FEED (websocket)
// =============================================================================

// liveFrame is one message on the ticket feed.
type liveFrame struct {
	Type    string   `json:"type"`
	Tickets []Ticket `json:"tickets,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// WatchTickets streams snapshots of the caller's visible tickets until ctx
// is cancelled or the connection drops. onSnapshot receives the full list
// each time; return an error from it to stop. Error frames are passed to
// onError and the feed continues.
func (c *Client) WatchTickets(
	ctx context.Context,
	onSnapshot func([]Ticket) error,
	onError func(error),
) error {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/tickets/live")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket upgrade refused"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var frame liveFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch frame.Type {
		case "snapshot":
			if err := onSnapshot(frame.Tickets); err != nil {
				return err
			}
		case "error":
			if onError != nil {
				onError(errors.New(frame.Error))
			}
		default:
			// Ignore unknown frame types
			continue
		}
	}
}
