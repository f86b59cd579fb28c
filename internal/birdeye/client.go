// Package birdeye is the market-data client used by the performance resolver.
package birdeye

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bbopar/discord-token-tracker/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://public-api.birdeye.so"
	DefaultChain       = "solana"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultRateLimit   = 5
	DefaultBurst       = 5
)

// Endpoint paths.
const (
	TradeDataPath = "/defi/v3/token/trade-data/single"
	SecurityPath  = "/defi/token_security"
	OverviewPath  = "/defi/token_overview"
)

const providerName = "birdeye"

// Client fetches token market data over HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	chain       string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithChain sets the x-chain header value.
func WithChain(chain string) ClientOption {
	return func(c *Client) {
		c.chain = chain
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxAttempts sets the number of attempts per request.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithRetryDelay sets the base retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithRateLimit limits outgoing requests to rps with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new market-data client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		apiKey:      apiKey,
		chain:       DefaultChain,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		limiter:     rate.NewLimiter(DefaultRateLimit, DefaultBurst),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c
}

// TradeData fetches per-timeframe trade metrics. A response without a payload returns nil data.
func (c *Client) TradeData(ctx context.Context, address string) (*TradeData, error) {
	return get[TradeData](ctx, c, TradeDataPath, address, false)
}

// Security fetches supply, creator balance and list membership.
func (c *Client) Security(ctx context.Context, address string) (*Security, error) {
	return get[Security](ctx, c, SecurityPath, address, true)
}

// Overview fetches the overview figures used as the liquidity source.
func (c *Client) Overview(ctx context.Context, address string) (*Overview, error) {
	return get[Overview](ctx, c, OverviewPath, address, true)
}

// get performs a GET with retries.
// 429 waits retryDelay*attempt, 404 fails immediately, anything else waits retryDelay.
// There is no wait after the final attempt.
func get[T any](ctx context.Context, c *Client, path, address string, requireData bool) (*T, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		data, err := fetch[T](ctx, c, path, address)
		if err == nil && data == nil && requireData {
			err = fmt.Errorf("missing data payload")
		}
		if err == nil {
			return data, nil
		}

		if errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("%s %s: %w", path, address, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		wait, reason := c.retryDelay, "error"
		if IsRateLimited(err) {
			wait, reason = c.retryDelay*time.Duration(attempt), "rate_limited"
		}
		observability.RecordProviderRetry(providerName, path, reason)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s %s: %w", path, address, lastErr)
}

func fetch[T any](ctx context.Context, c *Client, path, address string) (*T, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := c.baseURL + path + "?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-chain", c.chain)
	req.Header.Set("X-API-KEY", c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.RecordProviderRequest(providerName, path, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	observability.RecordProviderRequest(providerName, path, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTokenNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return env.Data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
