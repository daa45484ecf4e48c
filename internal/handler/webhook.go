package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const SignatureHeader = "X-Webhook-Signature"

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
}

// WebhookHandler stores signed provider callbacks for the webhook processor.
// It never applies them inline.
type WebhookHandler struct {
	webhooks webhookEventRepository
	secret   string
}

func NewWebhookHandler(webhooks webhookEventRepository, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, secret: secret}
}

func validateProviderEvent(ev domain.ProviderEvent) []domain.FieldError {
	var errs []domain.FieldError

	if ev.EventID == "" {
		errs = append(errs, domain.FieldError{Field: "event_id", Message: "required"})
	}
	if ev.EventType == "" {
		errs = append(errs, domain.FieldError{Field: "event_type", Message: "required"})
	} else if !ev.EventType.IsValid() {
		errs = append(errs, domain.FieldError{Field: "event_type", Message: "is not a supported event"})
	}
	if ev.ProviderRef == "" && ev.Reference == "" {
		errs = append(errs, domain.FieldError{Field: "provider_ref", Message: "provider_ref or reference required"})
	}
	if ev.Amount < 0 {
		errs = append(errs, domain.FieldError{Field: "amount", Message: "must not be negative"})
	}

	return errs
}

func (h *WebhookHandler) ReceiveProviderWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !VerifySignature(body, r.Header.Get(SignatureHeader), h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var ev domain.ProviderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := validateProviderEvent(ev); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	event := &domain.WebhookEvent{
		ID:          uuid.New(),
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		ProviderRef: ev.ProviderRef,
		Payload:     body,
		Status:      domain.WebhookEventStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.webhooks.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			log.Info("duplicate webhook received", "event_id", ev.EventID, "provider_ref", ev.ProviderRef)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"provider_event_id", ev.EventID,
		"provider_ref", ev.ProviderRef,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

// Sign returns the hex HMAC-SHA256 of body, as sent in SignatureHeader.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
