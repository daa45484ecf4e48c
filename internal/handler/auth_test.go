package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type fakeSessions struct {
	refreshed  string
	loggedOut  string
	refreshErr error
}

func (f *fakeSessions) session() *auth.Session {
	return &auth.Session{
		User:             &domain.User{ID: uuid.New(), Email: "ada@test.com", Name: "Ada", Role: domain.RoleUser},
		AccessToken:      "access-token",
		AccessExpiresAt:  time.Now().Add(15 * time.Minute),
		RefreshToken:     "new-refresh",
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func (f *fakeSessions) Register(_ context.Context, _, _, _ string) (*auth.Session, error) {
	return f.session(), nil
}

func (f *fakeSessions) Login(_ context.Context, _, password string) (*auth.Session, error) {
	if password != "correct-horse" {
		return nil, domain.ErrInvalidCredentials
	}
	return f.session(), nil
}

func (f *fakeSessions) Refresh(_ context.Context, token string) (*auth.Session, error) {
	f.refreshed = token
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session(), nil
}

func (f *fakeSessions) Logout(_ context.Context, token string) error {
	f.loggedOut = token
	return nil
}

func refreshCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "success", body: `{"email":"ada@test.com","password":"correct-horse"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"email":"ada@test.com","password":"nope"}`, wantStatus: http.StatusUnauthorized, wantCode: "invalid_credentials"},
		{name: "invalid email", body: `{"email":"ada","password":"x"}`, wantStatus: http.StatusBadRequest, wantCode: "validation_error"},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuthHandler(&fakeSessions{}, true)
			rr := httptest.NewRecorder()
			h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tc.body)))

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantCode != "" {
				var resp errorEnvelope
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tc.wantCode, resp.Data.Code)
				assert.Nil(t, refreshCookie(rr))
				return
			}

			var resp struct {
				Data sessionResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "access-token", resp.Data.AccessToken)
			assert.Equal(t, "Bearer", resp.Data.TokenType)

			c := refreshCookie(rr)
			require.NotNil(t, c)
			assert.Equal(t, "new-refresh", c.Value)
			assert.True(t, c.HttpOnly)
			assert.True(t, c.Secure)
			assert.NotContains(t, rr.Body.String(), "new-refresh")
		})
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	t.Run("reads the cookie and rotates it", func(t *testing.T) {
		sessions := &fakeSessions{}
		h := NewAuthHandler(sessions, false)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "old-refresh"})
		rr := httptest.NewRecorder()
		h.Refresh(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "old-refresh", sessions.refreshed)
		c := refreshCookie(rr)
		require.NotNil(t, c)
		assert.Equal(t, "new-refresh", c.Value)
	})

	t.Run("body token is ignored", func(t *testing.T) {
		sessions := &fakeSessions{}
		h := NewAuthHandler(sessions, false)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"from-body"}`))
		rr := httptest.NewRecorder()
		h.Refresh(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, sessions.refreshed)
		var resp errorEnvelope
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "missing_refresh_token", resp.Data.Code)
	})

	t.Run("failed refresh clears the cookie", func(t *testing.T) {
		h := NewAuthHandler(&fakeSessions{refreshErr: domain.ErrInvalidCredentials}, false)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "reused"})
		rr := httptest.NewRecorder()
		h.Refresh(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		c := refreshCookie(rr)
		require.NotNil(t, c)
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	})
}

func TestAuthHandler_Logout(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewAuthHandler(sessions, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "current"})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "current", sessions.loggedOut)
}
