package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

func newTestProviderClient(url string, maxAttempts uint64) *ProviderClient {
	c := NewProviderClient(url, "http://wallet.test/api/v1/webhooks/provider", maxAttempts)
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestProviderClient_SubmitPayout(t *testing.T) {
	var got payoutPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payouts", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payoutResponse{ProviderRef: "po_123"})
	}))
	defer srv.Close()

	c := newTestProviderClient(srv.URL, 3)
	ref, err := c.SubmitPayout(context.Background(), transaction.PayoutRequest{
		Reference:     "wdr-1",
		Amount:        1000,
		Currency:      domain.CurrencyNGN,
		BankCode:      "058",
		AccountNumber: "0123456789",
	})
	require.NoError(t, err)
	assert.Equal(t, "po_123", ref)
	assert.Equal(t, "wdr-1", got.Reference)
	assert.Equal(t, "http://wallet.test/api/v1/webhooks/provider", got.CallbackURL)
}

func TestProviderClient_Retries(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []int
		maxAttempts uint64
		wantErr     bool
		wantReject  bool
		wantCalls   int32
	}{
		{name: "recovers after server errors", statuses: []int{500, 503, 200}, maxAttempts: 4, wantCalls: 3},
		{name: "retries rate limiting", statuses: []int{429, 200}, maxAttempts: 4, wantCalls: 2},
		{name: "gives up after max attempts", statuses: []int{500, 500, 500, 500}, maxAttempts: 3, wantErr: true, wantCalls: 3},
		{name: "client error is final", statuses: []int{422, 200}, maxAttempts: 4, wantErr: true, wantReject: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[min(int(n), len(tt.statuses))-1]
				if status != http.StatusOK {
					http.Error(w, `{"error":"nope"}`, status)
					return
				}
				_ = json.NewEncoder(w).Encode(transaction.VendResult{ProviderRef: "vend_1", Token: "tok"})
			}))
			defer srv.Close()

			c := newTestProviderClient(srv.URL, tt.maxAttempts)
			res, err := c.VendBill(context.Background(), transaction.VendRequest{
				Reference:   "bill-1",
				Biller:      "dstv",
				CustomerRef: "10001",
				Amount:      500,
				Currency:    domain.CurrencyNGN,
			})

			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrProviderError)
				assert.Equal(t, tt.wantReject, errors.Is(err, domain.ErrProviderRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "vend_1", res.ProviderRef)
		})
	}
}

func TestProviderClient_VerifyDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/deposits/dep_42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(transaction.DepositStatus{ProviderRef: "dep_42", Status: transaction.ProviderStatusCompleted})
	}))
	defer srv.Close()

	status, err := newTestProviderClient(srv.URL, 2).VerifyDeposit(context.Background(), "dep_42")
	require.NoError(t, err)
	assert.Equal(t, transaction.ProviderStatusCompleted, status.Status)
}

func TestProviderClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProviderClient(srv.URL, 5).InitiateDeposit(ctx, transaction.DepositInit{Reference: "dep-1", Amount: 100, Currency: domain.CurrencyNGN})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}
