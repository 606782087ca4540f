package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBrevoURL is the transactional email endpoint.
const DefaultBrevoURL = "https://api.brevo.com/v3/smtp/email"

// BrevoSender delivers mail through Brevo's transactional email API.
type BrevoSender struct {
	apiKey   string
	endpoint string
	from     string
	fromName string
	client   *http.Client
	logger   *slog.Logger
}

// BrevoOption configures a BrevoSender.
type BrevoOption func(*BrevoSender)

// WithBrevoEndpoint overrides the API endpoint.
func WithBrevoEndpoint(url string) BrevoOption {
	return func(b *BrevoSender) { b.endpoint = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) BrevoOption {
	return func(b *BrevoSender) { b.client = c }
}

// NewBrevoSender creates a sender authenticated with apiKey.
func NewBrevoSender(apiKey, from, fromName string, logger *slog.Logger, opts ...BrevoOption) *BrevoSender {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BrevoSender{
		apiKey:   apiKey,
		endpoint: DefaultBrevoURL,
		from:     from,
		fromName: fromName,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (b *BrevoSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(brevoRequest{
		Sender:      brevoContact{Name: b.fromName, Email: b.from},
		To:          []brevoContact{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return &DispatchError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Reason: "build request", Err: err}
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("brevo request failed", "to", msg.To, "error", err)
		return &DispatchError{Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		var apiErr brevoError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			reason = apiErr.Message
		}
		b.logger.Error("brevo rejected email", "to", msg.To, "status", resp.StatusCode, "reason", reason)
		return &DispatchError{Reason: reason}
	}

	b.logger.Info("email sent", "transport", "brevo", "to", msg.To)
	return nil
}
