// Package apiclient is a Go client for the wallet API. Access tokens live in
// a caller-supplied TokenStore and are renewed transparently through the
// refresh cookie when the API answers 401.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

const (
	apiPrefix   = "/api/v1"
	refreshPath = apiPrefix + "/auth/refresh"
	loginPath   = apiPrefix + "/auth/login"
	logoutPath  = apiPrefix + "/auth/logout"
)

// ErrSessionExpired means the refresh cookie was rejected and the caller has
// to log in again.
var ErrSessionExpired = errors.New("session expired")

// TokenStore holds the current access token for one session.
type TokenStore interface {
	AccessToken() string
	SetAccessToken(token string)
}

type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *MemoryTokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Error is a non-2xx response decoded from the API's error envelope.
type Error struct {
	Status    int             `json:"-"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Details   json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type Option func(*Client)

// WithTransport sets the RoundTripper requests finally go through.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

type Client struct {
	baseURL string
	tokens  TokenStore
	base    http.RoundTripper
	timeout time.Duration

	http *http.Client
}

func New(baseURL string, tokens TokenStore, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		base:    http.DefaultTransport,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Refresh calls bypass the auth transport so a 401 there cannot recurse.
	plain := &http.Client{Transport: c.base, Jar: jar, Timeout: c.timeout}
	c.http = &http.Client{
		Transport: newAuthTransport(c.base, tokens, func(ctx context.Context) (string, error) {
			return refreshAccessToken(ctx, plain, c.baseURL+refreshPath)
		}),
		Jar:     jar,
		Timeout: c.timeout,
	}
	return c, nil
}

type sessionBody struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c *Client) Login(ctx context.Context, email, password string) error {
	var s sessionBody
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, loginPath, "", body, &s); err != nil {
		return fmt.Errorf("Login: %w", err)
	}
	c.tokens.SetAccessToken(s.AccessToken)
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, logoutPath, "", nil, nil); err != nil {
		return fmt.Errorf("Logout: %w", err)
	}
	c.tokens.SetAccessToken("")
	return nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		var env struct {
			Data Error `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return &Error{Status: resp.StatusCode, Code: "unknown", Message: http.StatusText(resp.StatusCode)}
		}
		env.Data.Status = resp.StatusCode
		return &env.Data
	}
	if out == nil {
		return nil
	}

	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
