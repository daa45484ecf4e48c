package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const routerSecret = "router-test-secret"

// The requests below are all rejected by middleware, so the handlers and
// the idempotency store are never reached.
func TestRouterGuards(t *testing.T) {
	router := newRouter(handlers{}, routerSecret, nil)

	userToken, err := auth.GenerateToken(uuid.New(), "user@test.com", domain.RoleUser, routerSecret, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{name: "transfer needs a token", method: http.MethodPost, path: "/api/v1/transactions/transfer", wantStatus: http.StatusUnauthorized},
		{name: "hold needs a token", method: http.MethodPost, path: "/api/v1/wallets/wallet/" + uuid.NewString() + "/hold", wantStatus: http.StatusUnauthorized},
		{name: "admin route rejects users", method: http.MethodPost, path: "/api/v1/admin/loans", token: userToken, wantStatus: http.StatusForbidden},
		{name: "kyc update rejects users", method: http.MethodPost, path: "/api/v1/admin/users/" + uuid.NewString() + "/kyc", token: userToken, wantStatus: http.StatusForbidden},
		{name: "mutation needs idempotency key", method: http.MethodPost, path: "/api/v1/transactions/transfer", token: userToken, wantStatus: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/nope", wantStatus: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/api/v1/transactions/transfer", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouterMetrics(t *testing.T) {
	router := newRouter(handlers{}, routerSecret, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
