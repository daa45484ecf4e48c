package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const webhookEventColumns = `id, event_id, event_type, provider_ref, payload, status,
	attempts, last_attempt, last_error, created_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores a callback. A redelivered event_id fails with
// ErrDuplicateIdempotencyKey.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, event_id, event_type, provider_ref, payload, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.EventID, event.EventType, event.ProviderRef, []byte(event.Payload),
		event.Status, event.Attempts, event.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending events for the caller's
// transaction. FOR UPDATE SKIP LOCKED keeps concurrent processors from
// claiming the same event.
func (r *WebhookEventRepository) ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.WebhookEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = $1 ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.WebhookEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

// MarkAttempt records a processing attempt and its outcome.
func (r *WebhookEventRepository) MarkAttempt(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WebhookEventStatus, lastErr *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE webhook_events
		SET status = $1, attempts = attempts + 1, last_attempt = now(), last_error = $2
		WHERE id = $3`,
		status, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("MarkAttempt: %w", err)
	}
	return requireRow(res, "MarkAttempt", domain.ErrNotFound)
}

func (r *WebhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE event_id = $1`, eventID,
	)
	e, err := scanWebhookEvent(row)
	if err != nil {
		return nil, fmt.Errorf("GetByEventID: %w", notFound(err, domain.ErrNotFound))
	}
	return e, nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.EventID, &e.EventType, &e.ProviderRef, &payload, &e.Status,
		&e.Attempts, &e.LastAttempt, &e.LastError, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
