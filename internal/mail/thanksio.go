// Package mail dispatches physical mail through Thanks.io.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.thanks.io/api/v2"
	DefaultTimeout = 20 * time.Second
)

// Address is one mailing destination.
type Address struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type PostcardRequest struct {
	Recipients       []Address
	Message          string
	FrontImageURL    string
	HandwritingStyle string
}

type LetterRequest struct {
	Recipients       []Address
	Message          string
	HandwritingStyle string
}

// DispatchResult carries the provider order id used to correlate webhooks.
type DispatchResult struct {
	ID string
}

// Dispatcher is the outbound mail collaborator. Implementations are
// at-least-once and non-transactional.
type Dispatcher interface {
	SendPostcard(ctx context.Context, req PostcardRequest) (*DispatchResult, error)
	SendLetter(ctx context.Context, req LetterRequest) (*DispatchResult, error)
}

// Client talks to the Thanks.io REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient builds a client whose every call is bounded by timeout.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type sendPayload struct {
	Recipients       []Address `json:"recipients"`
	Message          string    `json:"message"`
	FrontImageURL    string    `json:"front_image_url,omitempty"`
	HandwritingStyle string    `json:"handwriting_style,omitempty"`
}

func (c *Client) SendPostcard(ctx context.Context, req PostcardRequest) (*DispatchResult, error) {
	return c.send(ctx, "/send/postcard", sendPayload{
		Recipients:       req.Recipients,
		Message:          req.Message,
		FrontImageURL:    req.FrontImageURL,
		HandwritingStyle: req.HandwritingStyle,
	})
}

func (c *Client) SendLetter(ctx context.Context, req LetterRequest) (*DispatchResult, error) {
	return c.send(ctx, "/send/letter", sendPayload{
		Recipients:       req.Recipients,
		Message:          req.Message,
		HandwritingStyle: req.HandwritingStyle,
	})
}

func (c *Client) send(ctx context.Context, path string, payload sendPayload) (*DispatchResult, error) {
	if c.apiKey == "" {
		return nil, errors.New("thanks.io api key not configured")
	}
	if len(payload.Recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thanks.io %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("thanks.io %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode thanks.io response: %w", err)
	}
	id := normalizeID(parsed.ID)
	if id == "" {
		return nil, fmt.Errorf("thanks.io %s response missing order id", path)
	}

	slog.Info("mail dispatched", "endpoint", path, "external_id", id, "recipients", len(payload.Recipients))
	return &DispatchResult{ID: id}, nil
}

// normalizeID accepts both numeric and string ids.
func normalizeID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

var _ Dispatcher = (*Client)(nil)
