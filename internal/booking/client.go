// Package booking is the thin transport client for the restaurant
// assistant backend. It speaks the backend's /chat JSON contract and
// reports failures as either a NetworkFault (transport level) or a
// ProtocolFault (backend returned a non-success status or an
// unusable body). Callers treat both the same; the split exists for
// observability.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Request is the outbound chat payload. ContactNumber carries the
// device user id.
type Request struct {
	MessageID     string `json:"message_id"`
	RestaurantID  string `json:"restaurant_id"`
	StoreID       string `json:"store_id,omitempty"`
	ContactNumber string `json:"contact_number"`
	Message       string `json:"message"`
}

type chatResponse struct {
	MessageID string  `json:"message_id"`
	Response  *string `json:"response"`
	Status    string  `json:"status"`
}

// NetworkFault wraps a transport-level send failure (DNS, refused
// connection, timeout).
type NetworkFault struct {
	Err error
}

func (f *NetworkFault) Error() string { return fmt.Sprintf("network fault: %v", f.Err) }
func (f *NetworkFault) Unwrap() error { return f.Err }

// ProtocolFault reports a backend reply that cannot be used: a
// non-2xx status or a body without a response field.
type ProtocolFault struct {
	StatusCode int
	Reason     string
}

func (f *ProtocolFault) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("protocol fault: status %d: %s", f.StatusCode, f.Reason)
	}
	return fmt.Sprintf("protocol fault: %s", f.Reason)
}

type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Send posts one chat message and returns the assistant's reply text.
func (c *Client) Send(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).Str("message_id", req.MessageID).Msg("chat request failed")
		return "", &NetworkFault{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("message_id", req.MessageID).
			Msg("chat request rejected")
		return "", &ProtocolFault{StatusCode: resp.StatusCode, Reason: "non-success status"}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProtocolFault{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("unparseable body: %v", err)}
	}
	if out.Response == nil {
		return "", &ProtocolFault{StatusCode: resp.StatusCode, Reason: "missing response field"}
	}

	c.log.Debug().
		Str("message_id", req.MessageID).
		Dur("took", time.Since(start)).
		Msg("chat reply received")
	return *out.Response, nil
}

// Health probes the backend /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkFault{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &ProtocolFault{StatusCode: resp.StatusCode, Reason: "health check failed"}
	}
	return nil
}
