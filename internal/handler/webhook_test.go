package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const testWebhookSecret = "test-secret-key"

type mockWebhookRepo struct {
	created *domain.WebhookEvent
	err     error
}

func (m *mockWebhookRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	m.created = event
	return m.err
}

func validWebhookBody() string {
	b, _ := json.Marshal(domain.ProviderEvent{
		EventID:     uuid.NewString(),
		EventType:   domain.WebhookEventWithdrawalCompleted,
		ProviderRef: "po_123",
		Reference:   "wdr-1",
		Amount:      1000,
		Currency:    domain.CurrencyNGN,
		OccurredAt:  time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	return string(b)
}

type errorEnvelope struct {
	Data APIError `json:"data"`
}

func TestVerifySignature(t *testing.T) {
	body := `{"event_id":"abc"}`
	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{name: "valid signature", signature: Sign([]byte(body), testWebhookSecret), want: true},
		{name: "wrong signature", signature: "deadbeef", want: false},
		{name: "empty signature", signature: "", want: false},
		{name: "wrong secret", signature: Sign([]byte(body), "other-secret"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifySignature([]byte(body), tc.signature, testWebhookSecret))
		})
	}
}

func TestReceiveProviderWebhook(t *testing.T) {
	sign := func(body string) string { return Sign([]byte(body), testWebhookSecret) }

	tests := []struct {
		name       string
		body       string
		setupSig   func(body string) string
		repoErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid signed webhook",
			body:       validWebhookBody(),
			setupSig:   sign,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing signature header",
			body:       validWebhookBody(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_signature",
		},
		{
			name:       "invalid signature",
			body:       validWebhookBody(),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_signature",
		},
		{
			name:       "empty body",
			body:       "",
			setupSig:   sign,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "invalid JSON body",
			body:       "not-json",
			setupSig:   sign,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "missing required fields",
			body:       `{"event_type":"deposit.completed"}`,
			setupSig:   sign,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "unsupported event type",
			body:       `{"event_id":"e1","event_type":"refund.created","provider_ref":"p1"}`,
			setupSig:   sign,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "duplicate webhook returns OK",
			body:       validWebhookBody(),
			setupSig:   sign,
			repoErr:    fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey),
			wantStatus: http.StatusOK,
		},
		{
			name:       "repository error returns 500",
			body:       validWebhookBody(),
			setupSig:   sign,
			repoErr:    fmt.Errorf("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockWebhookRepo{err: tc.repoErr}
			h := NewWebhookHandler(repo, testWebhookSecret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(tc.body))
			if tc.setupSig != nil {
				req.Header.Set(SignatureHeader, tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.ReceiveProviderWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantCode == "" {
				var resp struct {
					Data map[string]string `json:"data"`
				}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Data["status"])
				return
			}

			var resp errorEnvelope
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Data.Code)
		})
	}
}

func TestReceiveProviderWebhook_StoresCorrectEvent(t *testing.T) {
	repo := &mockWebhookRepo{}
	h := NewWebhookHandler(repo, testWebhookSecret)

	body := validWebhookBody()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte(body), testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveProviderWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, domain.WebhookEventStatusPending, repo.created.Status)
	assert.Equal(t, domain.WebhookEventWithdrawalCompleted, repo.created.EventType)
	assert.Equal(t, "po_123", repo.created.ProviderRef)
	assert.NotEqual(t, uuid.Nil, repo.created.ID)
	assert.Equal(t, json.RawMessage(body), repo.created.Payload)
}
