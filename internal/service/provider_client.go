package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

// ProviderClient talks to the payment provider. Every call is retried with
// exponential backoff on network errors and 5xx responses; a 4xx is final
// and wraps domain.ErrProviderRejected.
// The provider deduplicates on our reference, so retries are safe.
type ProviderClient struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
}

func NewProviderClient(baseURL, callbackURL string, maxAttempts uint64) *ProviderClient {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &ProviderClient{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

type depositPayload struct {
	transaction.DepositInit
	CallbackURL string `json:"callback_url"`
}

func (c *ProviderClient) InitiateDeposit(ctx context.Context, req transaction.DepositInit) (*transaction.DepositSession, error) {
	var session transaction.DepositSession
	payload := depositPayload{DepositInit: req, CallbackURL: c.callbackURL}
	if err := c.call(ctx, "deposit_init", http.MethodPost, "/deposits", payload, &session); err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	return &session, nil
}

func (c *ProviderClient) VerifyDeposit(ctx context.Context, providerRef string) (*transaction.DepositStatus, error) {
	var status transaction.DepositStatus
	if err := c.call(ctx, "deposit_verify", http.MethodGet, "/deposits/"+url.PathEscape(providerRef), nil, &status); err != nil {
		return nil, fmt.Errorf("VerifyDeposit: %w", err)
	}
	return &status, nil
}

type payoutPayload struct {
	transaction.PayoutRequest
	CallbackURL string `json:"callback_url"`
}

type payoutResponse struct {
	ProviderRef string `json:"provider_ref"`
}

func (c *ProviderClient) SubmitPayout(ctx context.Context, req transaction.PayoutRequest) (string, error) {
	var resp payoutResponse
	payload := payoutPayload{PayoutRequest: req, CallbackURL: c.callbackURL}
	if err := c.call(ctx, "payout", http.MethodPost, "/payouts", payload, &resp); err != nil {
		return "", fmt.Errorf("SubmitPayout: %w", err)
	}
	return resp.ProviderRef, nil
}

func (c *ProviderClient) VendBill(ctx context.Context, req transaction.VendRequest) (*transaction.VendResult, error) {
	var res transaction.VendResult
	if err := c.call(ctx, "bill_vend", http.MethodPost, "/bills", req, &res); err != nil {
		return nil, fmt.Errorf("VendBill: %w", err)
	}
	return &res, nil
}

// call sends one request with retries and decodes a 2xx body into out.
// Errors wrap domain.ErrProviderError.
func (c *ProviderClient) call(ctx context.Context, op, method, path string, in, out any) error {
	log := logging.FromContext(ctx)

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = b
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Warn("provider request failed", "operation", op, "attempt", attempt, "error", err)
			return fmt.Errorf("send: %w", err)
		}
		defer resp.Body.Close()

		log.Info("provider response received",
			"operation", op,
			"status", resp.StatusCode,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrProviderRejected))
			}
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxAttempts-1), ctx)
	err := backoff.Retry(operation, b)
	metrics.ProviderCalls.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s after %d attempts: %w: %w", op, attempt, domain.ErrProviderError, err)
	}
	return nil
}
