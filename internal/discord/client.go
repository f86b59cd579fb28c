// Package discord is a minimal chat-platform REST client for reading channel history.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://discord.com/api/v9"
	DefaultTimeout = 60 * time.Second
	DefaultLimit   = 50
)

const providerName = "discord"

// Author is a message author or mentioned user.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Message is a channel message.
type Message struct {
	ID                string    `json:"id"`
	ChannelID         string    `json:"channel_id"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	Author            *Author   `json:"author"`
	Mentions          []Author  `json:"mentions"`
	ReferencedMessage *Message  `json:"referenced_message"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord API error %d: %s", e.StatusCode, e.Body)
}

// Client reads messages with a user or bot authorization token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
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

// NewClient creates a new client authorized with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChannelMessages returns the latest limit messages of a channel, newest first.
func (c *Client) ChannelMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var messages []Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.get(ctx, "channel_messages", path, q, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// searchResponse groups hits with their context messages.
type searchResponse struct {
	Messages     [][]Message `json:"messages"`
	TotalResults int         `json:"total_results"`
}

// SearchMessages runs a guild free-text search scoped to channelID.
// The grouped result is flattened in provider order.
func (c *Client) SearchMessages(ctx context.Context, guildID, channelID, content string) ([]Message, error) {
	q := url.Values{}
	q.Set("channel_id", channelID)
	q.Set("content", content)

	var resp searchResponse
	path := "/guilds/" + url.PathEscape(guildID) + "/messages/search"
	if err := c.get(ctx, "search", path, q, &resp); err != nil {
		return nil, err
	}

	var out []Message
	for _, group := range resp.Messages {
		out = append(out, group...)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.RecordProviderRequest(providerName, endpoint, "error", time.Since(start).Seconds())
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	observability.RecordProviderRequest(providerName, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
