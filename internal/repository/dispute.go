package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const disputeColumns = `id, transaction_id, user_id, type, status, reason, resolution,
	hold_id, reversal_transaction_id, created_at, updated_at, resolved_at`

type DisputeRepository struct {
	db *sql.DB
}

func NewDisputeRepository(db *sql.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a dispute. A second open dispute on the same transaction
// violates idx_disputes_one_active and maps to ErrDisputeExists.
func (r *DisputeRepository) Create(ctx context.Context, d *domain.Dispute) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO disputes (
			id, transaction_id, user_id, type, status, reason, resolution,
			hold_id, reversal_transaction_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.TransactionID, d.UserID, d.Type, d.Status, d.Reason, d.Resolution,
		d.HoldID, d.ReversalTransactionID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, "idx_disputes_one_active") {
			return fmt.Errorf("Create: %w", domain.ErrDisputeExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	return r.getOne(ctx, r.db, "GetByID", `WHERE id = $1`, id)
}

func (r *DisputeRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Dispute, error) {
	return r.getOne(ctx, tx, "GetForUpdate", `WHERE id = $1 FOR UPDATE`, id)
}

func (r *DisputeRepository) getOne(ctx context.Context, q queryRower, op, where string, args ...any) (*domain.Dispute, error) {
	row := q.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes `+where, args...)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrDisputeNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (r *DisputeRepository) SetHold(ctx context.Context, id, holdID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE disputes SET hold_id = $1, updated_at = now() WHERE id = $2`, holdID, id,
	)
	if err != nil {
		return fmt.Errorf("SetHold: %w", err)
	}
	return requireRow(res, "SetHold", domain.ErrDisputeNotFound)
}

func (r *DisputeRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.DisputeStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE disputes SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'investigating')`, status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return requireRow(res, "UpdateStatus", domain.ErrDisputeClosed)
}

func (r *DisputeRepository) Close(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.DisputeStatus, resolution string, reversalID *uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE disputes
		SET status = $1, resolution = $2, reversal_transaction_id = $3, resolved_at = $4, updated_at = $4
		WHERE id = $5 AND status IN ('pending', 'investigating')`,
		status, resolution, reversalID, at, id,
	)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return requireRow(res, "Close", domain.ErrDisputeClosed)
}

func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Dispute, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListByUser: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByUser: scan: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return out, total, nil
}

func scanDispute(s scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var holdID, reversalID uuid.NullUUID
	err := s.Scan(
		&d.ID, &d.TransactionID, &d.UserID, &d.Type, &d.Status, &d.Reason, &d.Resolution,
		&holdID, &reversalID, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if holdID.Valid {
		d.HoldID = &holdID.UUID
	}
	if reversalID.Valid {
		d.ReversalTransactionID = &reversalID.UUID
	}
	return &d, nil
}
