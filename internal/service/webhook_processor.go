package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const (
	webhookBatchSize   = 10
	webhookMaxAttempts = 5
)

type webhookRepo interface {
	ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.WebhookEvent, error)
	MarkAttempt(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WebhookEventStatus, lastErr *string) error
}

type providerEventHandler interface {
	ProcessProviderEvent(ctx context.Context, ev domain.ProviderEvent) error
}

// WebhookProcessor drains stored provider callbacks. Each poll claims a
// batch with SKIP LOCKED, so several API instances can run it at once.
type WebhookProcessor struct {
	webhooks webhookRepo
	handler  providerEventHandler
	db       *sql.DB
	logger   *slog.Logger
	interval time.Duration
}

func NewWebhookProcessor(
	webhooks webhookRepo,
	handler providerEventHandler,
	db *sql.DB,
	logger *slog.Logger,
	interval time.Duration,
) *WebhookProcessor {
	return &WebhookProcessor{
		webhooks: webhooks,
		handler:  handler,
		db:       db,
		logger:   logger,
		interval: interval,
	}
}

func (p *WebhookProcessor) Start(ctx context.Context) {
	p.logger.Info("webhook processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("webhook processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("webhook batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch claims and processes one batch of pending events and returns
// how many it claimed.
func (p *WebhookProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx = logging.WithLogger(ctx, p.logger)

	var claimed int
	err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		events, err := p.webhooks.ClaimPending(ctx, tx, webhookBatchSize)
		if err != nil {
			return err
		}
		claimed = len(events)

		for _, event := range events {
			status, lastErr := p.processEvent(ctx, event)
			if err := p.webhooks.MarkAttempt(ctx, tx, event.ID, status, lastErr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ProcessBatch: %w", err)
	}
	return claimed, nil
}

// processEvent returns the status the event moves to. Transient failures
// leave it pending until it runs out of attempts.
func (p *WebhookProcessor) processEvent(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEventStatus, *string) {
	var ev domain.ProviderEvent
	if err := json.Unmarshal(event.Payload, &ev); err != nil {
		p.logger.Error("malformed webhook payload", "webhook_event_id", event.ID, "error", err)
		return p.finish(event, domain.WebhookEventStatusFailed, err)
	}

	err := p.handler.ProcessProviderEvent(ctx, ev)
	if err == nil {
		return p.finish(event, domain.WebhookEventStatusProcessed, nil)
	}

	p.logger.Error("failed to process webhook event",
		"webhook_event_id", event.ID,
		"event_type", event.EventType,
		"attempt", event.Attempts+1,
		"error", err,
	)
	if permanent(err) || event.Attempts+1 >= webhookMaxAttempts {
		return p.finish(event, domain.WebhookEventStatusFailed, err)
	}
	return p.finish(event, domain.WebhookEventStatusPending, err)
}

func (p *WebhookProcessor) finish(event domain.WebhookEvent, status domain.WebhookEventStatus, err error) (domain.WebhookEventStatus, *string) {
	metrics.WebhookEvents.WithLabelValues(string(event.EventType), string(status)).Inc()
	if err == nil {
		return status, nil
	}
	msg := err.Error()
	return status, &msg
}

// permanent reports errors that retrying the same callback cannot fix.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrTransactionNotFound) ||
		errors.Is(err, domain.ErrHoldNotFound) ||
		errors.Is(err, domain.ErrIdempotencyConflict)
}
