package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
)

const testSecret = "mock-secret"

func startProvider(t *testing.T) (*httptest.Server, chan domain.ProviderEvent, string) {
	t.Helper()

	events := make(chan domain.ProviderEvent, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !handler.VerifySignature(body, r.Header.Get(handler.SignatureHeader), testSecret) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var ev domain.ProviderEvent
		assert.NoError(t, json.Unmarshal(body, &ev))
		events <- ev
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(receiver.Close)

	ctx, cancel := context.WithCancel(context.Background())
	p := newProvider(ctx, testSecret, 10*time.Millisecond, slog.Default())
	srv := httptest.NewServer(p.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		p.wait()
	})
	return srv, events, receiver.URL
}

func post(t *testing.T, url, body string) map[string]string {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func awaitEvent(t *testing.T, events chan domain.ProviderEvent) domain.ProviderEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no callback received")
		return domain.ProviderEvent{}
	}
}

func TestDepositLifecycle(t *testing.T) {
	srv, events, callback := startProvider(t)

	body := `{"reference":"dep-1","amount":5000,"currency":"NGN","callback_url":"` + callback + `"}`
	first := post(t, srv.URL+"/deposits", body)
	again := post(t, srv.URL+"/deposits", body)
	assert.Equal(t, first["provider_ref"], again["provider_ref"])

	ev := awaitEvent(t, events)
	assert.Equal(t, domain.WebhookEventDepositCompleted, ev.EventType)
	assert.Equal(t, first["provider_ref"], ev.ProviderRef)
	assert.Equal(t, "dep-1", ev.Reference)

	resp, err := http.Get(srv.URL + "/deposits/" + first["provider_ref"])
	require.NoError(t, err)
	defer resp.Body.Close()
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "completed", status["status"])
}

func TestPayoutFailureSuffix(t *testing.T) {
	srv, events, callback := startProvider(t)

	post(t, srv.URL+"/payouts", `{"reference":"wdr-1","amount":1013,"currency":"NGN","callback_url":"`+callback+`"}`)

	ev := awaitEvent(t, events)
	assert.Equal(t, domain.WebhookEventWithdrawalFailed, ev.EventType)
	assert.NotEmpty(t, ev.Reason)
}

func TestSettleCard(t *testing.T) {
	srv, events, callback := startProvider(t)

	post(t, srv.URL+"/cards/settle", `{"reference":"card-1","amount":700,"currency":"NGN","declined":true,"reason":"expired card","callback_url":"`+callback+`"}`)

	ev := awaitEvent(t, events)
	assert.Equal(t, domain.WebhookEventCardFundingDeclined, ev.EventType)
	assert.Equal(t, "expired card", ev.Reason)
}

func TestVendBill(t *testing.T) {
	srv, _, _ := startProvider(t)

	out := post(t, srv.URL+"/bills", `{"reference":"bill-1","amount":2500,"currency":"NGN"}`)
	assert.NotEmpty(t, out["token"])

	resp, err := http.Post(srv.URL+"/bills", "application/json", strings.NewReader(`{"reference":"bill-2","amount":2513,"currency":"NGN"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
