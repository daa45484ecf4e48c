package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
)

// Amounts whose last two minor-unit digits are failSuffix fail at the
// provider, which lets callers exercise failure paths deterministically.
const failSuffix = 13

type payment struct {
	ProviderRef string          `json:"provider_ref"`
	Reference   string          `json:"reference"`
	Amount      int64           `json:"amount"`
	Currency    domain.Currency `json:"currency"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	callbackURL string
}

// provider simulates the payment provider. Requests are idempotent on the
// caller's reference, and final outcomes are delivered as signed callbacks.
type provider struct {
	ctx    context.Context
	secret string
	delay  time.Duration
	logger *slog.Logger
	client *http.Client

	mu          sync.Mutex
	byRef       map[string]*payment
	byReference map[string]*payment

	inflight sync.WaitGroup
}

func newProvider(ctx context.Context, secret string, delay time.Duration, logger *slog.Logger) *provider {
	return &provider{
		ctx:         ctx,
		secret:      secret,
		delay:       delay,
		logger:      logger,
		client:      &http.Client{Timeout: 5 * time.Second},
		byRef:       map[string]*payment{},
		byReference: map[string]*payment{},
	}
}

func (p *provider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /deposits", p.createDeposit)
	mux.HandleFunc("GET /deposits/{ref}", p.getDeposit)
	mux.HandleFunc("POST /payouts", p.createPayout)
	mux.HandleFunc("POST /bills", p.vendBill)
	mux.HandleFunc("POST /cards/settle", p.settleCard)
	return mux
}

type paymentRequest struct {
	Reference   string          `json:"reference"`
	Amount      int64           `json:"amount"`
	Currency    domain.Currency `json:"currency"`
	CallbackURL string          `json:"callback_url"`
}

func (r paymentRequest) validate() error {
	switch {
	case r.Reference == "":
		return fmt.Errorf("reference is required")
	case r.Amount <= 0:
		return fmt.Errorf("amount must be positive")
	case !r.Currency.IsValid():
		return fmt.Errorf("unsupported currency %q", r.Currency)
	}
	return nil
}

// register returns the payment for req.Reference, creating it on first use.
func (p *provider) register(req paymentRequest, prefix string) (*payment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byReference[req.Reference]; ok {
		return existing, false
	}
	pay := &payment{
		ProviderRef: prefix + "_" + uuid.NewString()[:12],
		Reference:   req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      "pending",
		callbackURL: req.CallbackURL,
	}
	p.byRef[pay.ProviderRef] = pay
	p.byReference[pay.Reference] = pay
	return pay, true
}

func (p *provider) createDeposit(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}

	pay, created := p.register(req, "dep")
	if created {
		p.settleLater(pay, domain.WebhookEventDepositCompleted, domain.WebhookEventDepositFailed)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"provider_ref": pay.ProviderRef,
		"payment_url":  "https://checkout.mock-provider.local/pay/" + pay.ProviderRef,
	})
}

func (p *provider) getDeposit(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	pay, ok := p.byRef[r.PathValue("ref")]
	var snapshot payment
	if ok {
		snapshot = *pay
	}
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown deposit"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (p *provider) createPayout(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}

	pay, created := p.register(req, "po")
	if created {
		p.settleLater(pay, domain.WebhookEventWithdrawalCompleted, domain.WebhookEventWithdrawalFailed)
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider_ref": pay.ProviderRef})
}

func (p *provider) vendBill(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount%100 == failSuffix {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "biller rejected the customer reference"})
		return
	}

	pay, _ := p.register(req, "vend")
	p.mu.Lock()
	pay.Status = "completed"
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"provider_ref": pay.ProviderRef,
		"token":        fmt.Sprintf("%04d-%04d-%04d", pay.Amount%10000, len(pay.Reference), time.Now().Unix()%10000),
	})
}

type settleCardRequest struct {
	paymentRequest
	Declined bool   `json:"declined"`
	Reason   string `json:"reason"`
}

// settleCard lets an operator trigger the card network's settlement
// callback for a funded card hold.
func (p *provider) settleCard(w http.ResponseWriter, r *http.Request) {
	var req settleCardRequest
	if !decode(w, r, &req) {
		return
	}

	pay, _ := p.register(req.paymentRequest, "card")
	eventType := domain.WebhookEventCardFundingSettled
	if req.Declined {
		eventType = domain.WebhookEventCardFundingDeclined
	}
	p.deliver(pay, eventType, req.Reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"provider_ref": pay.ProviderRef})
}

// settleLater finalizes pay after the configured delay and notifies the
// caller.
func (p *provider) settleLater(pay *payment, success, failure domain.WebhookEventType) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.delay):
		}

		p.mu.Lock()
		eventType, reason := success, ""
		if pay.Amount%100 == failSuffix {
			eventType, reason = failure, "declined by issuing bank"
			pay.Status, pay.Reason = "failed", reason
		} else {
			pay.Status = "completed"
		}
		p.mu.Unlock()

		p.deliver(pay, eventType, reason)
	}()
}

// deliver posts a signed callback, retrying until the receiver accepts it
// or the provider shuts down.
func (p *provider) deliver(pay *payment, eventType domain.WebhookEventType, reason string) {
	if pay.callbackURL == "" {
		p.logger.Warn("no callback url, skipping delivery", "provider_ref", pay.ProviderRef)
		return
	}

	body, err := json.Marshal(domain.ProviderEvent{
		EventID:     "evt_" + uuid.NewString(),
		EventType:   eventType,
		ProviderRef: pay.ProviderRef,
		Reference:   pay.Reference,
		Amount:      pay.Amount,
		Currency:    pay.Currency,
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("failed to encode callback", "error", err)
		return
	}
	signature := handler.Sign(body, p.secret)

	send := func() error {
		req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, pay.callbackURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(handler.SignatureHeader, signature)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("callback returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("callback rejected with %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(send, backoff.WithContext(b, p.ctx)); err != nil {
		p.logger.Error("callback delivery failed", "provider_ref", pay.ProviderRef, "event_type", eventType, "error", err)
		return
	}
	p.logger.Info("callback delivered", "provider_ref", pay.ProviderRef, "event_type", eventType)
}

func (p *provider) wait() {
	p.inflight.Wait()
}

type validatable interface {
	validate() error
}

func decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
