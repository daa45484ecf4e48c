package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"
)

type refreshFunc func(ctx context.Context) (string, error)

// authTransport adds the bearer token and, on a 401, renews it once and
// replays the request. Concurrent 401s share a single refresh call.
type authTransport struct {
	base    http.RoundTripper
	tokens  TokenStore
	refresh refreshFunc
	group   singleflight.Group
}

func newAuthTransport(base http.RoundTripper, tokens TokenStore, refresh refreshFunc) *authTransport {
	return &authTransport{base: base, tokens: tokens, refresh: refresh}
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer body: %w", err)
		}
	}

	sent := t.tokens.AccessToken()
	resp, err := t.base.RoundTrip(withToken(req, body, sent))
	// A 401 from the auth endpoints themselves is a real answer.
	if err != nil || resp.StatusCode != http.StatusUnauthorized || strings.HasPrefix(req.URL.Path, apiPrefix+"/auth/") {
		return resp, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err := t.renew(req.Context(), sent)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(withToken(req, body, token))
}

// renew returns a token newer than stale, refreshing only if no other caller
// already did.
func (t *authTransport) renew(ctx context.Context, stale string) (string, error) {
	v, err, _ := t.group.Do("refresh", func() (any, error) {
		if current := t.tokens.AccessToken(); current != "" && current != stale {
			return current, nil
		}
		token, err := t.refresh(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		t.tokens.SetAccessToken(token)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// withToken clones req with a fresh copy of body and the bearer header.
func withToken(req *http.Request, body []byte, token string) *http.Request {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func refreshAccessToken(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	var s sessionBody
	if err := decodeResponse(resp, &s); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return "", fmt.Errorf("refresh: %w", ErrSessionExpired)
		}
		return "", fmt.Errorf("refresh: %w", err)
	}
	if s.AccessToken == "" {
		return "", fmt.Errorf("refresh: empty access token: %w", ErrSessionExpired)
	}
	return s.AccessToken, nil
}
