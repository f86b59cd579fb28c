// Package delivery hands complete recommendations to the downstream agent.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 5 * time.Second
)

// ErrRejected is returned when the agent answers 2xx with a falsy body.
var ErrRejected = errors.New("recommendation rejected")

// StatusError is a non-2xx agent response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("delivery failed with status %d: %s", e.StatusCode, e.Body)
}

// Client posts recommendations to one agent.
type Client struct {
	baseURL string
	agentID string
	client  *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the agent base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a client for agentID.
func NewClient(agentID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		agentID: agentID,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts rec. It succeeds only on a 2xx response with a truthy JSON body.
func (c *Client) Send(ctx context.Context, rec *domain.Recommendation) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}

	endpoint := c.baseURL + "/recommendation/" + url.PathEscape(c.agentID) + "/set"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.RecordProviderRequest("agent", "recommendation_set", "error", time.Since(start).Seconds())
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	observability.RecordProviderRequest("agent", "recommendation_set", strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if !truthy(respBody) {
		return ErrRejected
	}
	return nil
}

// truthy reports whether a JSON body is truthy: not empty, false, null, 0 or "".
// Bodies that are not JSON count as truthy when non-empty.
func truthy(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return true
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
