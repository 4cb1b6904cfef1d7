// Package api is the HTTP facade over the form analysis and conversation
// services.
package api

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

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "formscout"
	maxErrorBody     = 4096
)

// Client talks to the form service.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(client *Client) {
		client.userAgent = agent
	}
}

// NewClient creates a client for the service rooted at baseURL
// (e.g. "http://localhost:8000/api/v1").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}
	c := &Client{
		baseURL:   u,
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolve joins path onto the base URL. Absolute URLs pass through unchanged.
func (c *Client) resolve(path string, query url.Values) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, fullURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and returns the response for any 2xx or 304 status. Other
// statuses are converted into *Error and the body is closed.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return nil, fmt.Errorf("do request: %w", err)
	}
	log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("request")

	if resp.StatusCode == http.StatusNotModified || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(body)}
}

// doJSON performs a request with an optional JSON payload and decodes the
// JSON response into result.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, c.resolve(path, query), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// wrapError wraps an error with an operation name if it's an API error.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		apiErr.Op = op
		return apiErr
	}
	return fmt.Errorf("%s: %w", op, err)
}
