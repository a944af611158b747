// Package remote talks to a running idcheck API over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idcheck.org/internal/audit"
	"idcheck.org/internal/auth"
	"idcheck.org/internal/checker"
	"idcheck.org/internal/validationlog"
)

// ErrRateLimited is returned when the server answers 429.
var ErrRateLimited = errors.New("remote: rate limited")

// StatusError carries an unexpected HTTP status and the server's message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Client wraps the JSON API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckInput is the body of a stored check.
type CheckInput struct {
	Number         string          `json:"number"`
	ValidationType string          `json:"validation_type,omitempty"`
	Source         string          `json:"source,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// Validate asks the server for a verdict without storing anything.
func (c *Client) Validate(ctx context.Context, number string) (checker.Verdict, error) {
	var v checker.Verdict
	err := c.do(ctx, http.MethodPost, "/v1/idcards/validate", map[string]string{"number": number}, &v)
	return v, err
}

// Check validates and records in.Number.
func (c *Client) Check(ctx context.Context, in CheckInput) (checker.CheckReply, error) {
	var reply checker.CheckReply
	err := c.do(ctx, http.MethodPost, "/v1/idcards/check", in, &reply)
	return reply, err
}

// History lists the stored attempts for number, newest first.
func (c *Client) History(ctx context.Context, number string) ([]validationlog.Record, error) {
	var resp struct {
		Items []validationlog.Record `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/validation-logs/by-number/"+url.PathEscape(number), nil, &resp)
	return resp.Items, err
}

func (c *Client) Stats(ctx context.Context) (validationlog.Stats, error) {
	var st validationlog.Stats
	err := c.do(ctx, http.MethodGet, "/v1/validation-logs/stats", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", validationlog.ErrPersistenceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return mapStatus(resp.StatusCode, payload.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapStatus(code int, msg string) error {
	var kind error
	switch code {
	case http.StatusBadRequest:
		kind = validationlog.ErrInvalidInput
	case http.StatusUnauthorized:
		kind = auth.ErrUnauthorized
	case http.StatusForbidden:
		kind = auth.ErrForbidden
	case http.StatusNotFound:
		kind = validationlog.ErrNotFound
	case http.StatusConflict:
		kind = validationlog.ErrConcurrencyConflict
	case http.StatusTooManyRequests:
		kind = ErrRateLimited
	case http.StatusServiceUnavailable:
		kind = validationlog.ErrPersistenceUnavailable
	default:
		return &StatusError{Code: code, Message: msg}
	}
	if msg == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
