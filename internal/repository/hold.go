package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const holdColumns = `id, wallet_id, amount, reason, reference, status, metadata,
	created_at, released_at, release_reason`

type HoldRepository struct {
	db *sql.DB
}

func NewHoldRepository(db *sql.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, tx *sql.Tx, h *domain.Hold) error {
	var metadata any
	if len(h.Metadata) > 0 {
		metadata = h.Metadata
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO holds (id, wallet_id, amount, reason, reference, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.WalletID, h.Amount, h.Reason, h.Reference, h.Status, metadata, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	return r.getOne(ctx, r.db, "GetByID", `WHERE id = $1`, id)
}

func (r *HoldRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Hold, error) {
	return r.getOne(ctx, tx, "GetForUpdate", `WHERE id = $1 FOR UPDATE`, id)
}

func (r *HoldRepository) GetByReference(ctx context.Context, reference string) (*domain.Hold, error) {
	return r.getOne(ctx, r.db, "GetByReference", `WHERE reference = $1`, reference)
}

func (r *HoldRepository) getOne(ctx context.Context, q queryRower, op, where string, args ...any) (*domain.Hold, error) {
	row := q.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds `+where, args...)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrHoldNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

// Close moves an active hold to a closing status. The caller holds both the
// wallet and hold locks.
func (r *HoldRepository) Close(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.HoldStatus, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE holds SET status = $1, release_reason = $2, released_at = $3
		WHERE id = $4 AND status = 'active'`,
		status, reason, at, id,
	)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return requireRow(res, "Close", domain.ErrHoldNotFound)
}

func (r *HoldRepository) ListActiveByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		WHERE wallet_id = $1 AND status = 'active' ORDER BY created_at`, walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListActiveByWallet: %w", err)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, fmt.Errorf("ListActiveByWallet: %w", err)
	}
	return holds, nil
}

func (r *HoldRepository) CountActiveByWallet(ctx context.Context, tx *sql.Tx, walletID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM holds WHERE wallet_id = $1 AND status = 'active'`, walletID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountActiveByWallet: %w", err)
	}
	return n, nil
}

// ListStale returns active holds with one of reasons created before cutoff,
// oldest first. It takes no locks; each hold is re-checked under lock when
// it is expired.
func (r *HoldRepository) ListStale(ctx context.Context, cutoff time.Time, reasons []domain.HoldReason, limit int) ([]domain.Hold, error) {
	names := make([]string, len(reasons))
	for i, reason := range reasons {
		names[i] = string(reason)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		WHERE status = 'active' AND created_at < $1 AND reason = ANY($2)
		ORDER BY created_at LIMIT $3`,
		cutoff, pq.Array(names), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStale: %w", err)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, fmt.Errorf("ListStale: %w", err)
	}
	return holds, nil
}

// TryLockWallet locks a wallet row without waiting. It returns false when
// another transaction holds the lock.
func (r *HoldRepository) TryLockWallet(ctx context.Context, tx *sql.Tx, walletID uuid.UUID) (bool, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM wallets WHERE id = $1 FOR UPDATE SKIP LOCKED`, walletID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("TryLockWallet: %w", err)
	}
	return true, nil
}

func collectHolds(rows *sql.Rows) ([]domain.Hold, error) {
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return holds, nil
}

func scanHold(s scanner) (*domain.Hold, error) {
	var h domain.Hold
	err := s.Scan(
		&h.ID, &h.WalletID, &h.Amount, &h.Reason, &h.Reference, &h.Status, &h.Metadata,
		&h.CreatedAt, &h.ReleasedAt, &h.ReleaseReason,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
