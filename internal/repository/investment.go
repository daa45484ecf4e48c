package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const investmentColumns = `id, user_id, wallet_id, principal, currency, rate_bps, duration_days,
	status, started_at, matures_at, liquidated_at, returned, penalty`

type InvestmentRepository struct {
	db *sql.DB
}

func NewInvestmentRepository(db *sql.DB) *InvestmentRepository {
	return &InvestmentRepository{db: db}
}

func (r *InvestmentRepository) Create(ctx context.Context, tx *sql.Tx, i *domain.Investment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO investments (
			id, user_id, wallet_id, principal, currency, rate_bps, duration_days,
			status, started_at, matures_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		i.ID, i.UserID, i.WalletID, i.Principal, i.Currency, i.RateBPS, i.DurationDays,
		i.Status, i.StartedAt, i.MaturesAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InvestmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Investment, error) {
	i, err := scanInvestment(r.db.QueryRowContext(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", notFound(err, domain.ErrNotFound))
	}
	return i, nil
}

func (r *InvestmentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Investment, error) {
	i, err := scanInvestment(tx.QueryRowContext(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", notFound(err, domain.ErrNotFound))
	}
	return i, nil
}

func (r *InvestmentRepository) MarkLiquidated(ctx context.Context, tx *sql.Tx, id uuid.UUID, returned, penalty int64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE investments SET status = 'liquidated', returned = $1, penalty = $2, liquidated_at = $3
		WHERE id = $4 AND status = 'active'`,
		returned, penalty, at, id,
	)
	if err != nil {
		return fmt.Errorf("MarkLiquidated: %w", err)
	}
	return requireRow(res, "MarkLiquidated", domain.ErrInvestmentNotActive)
}

func (r *InvestmentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Investment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 ORDER BY started_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var out []domain.Investment
	for rows.Next() {
		i, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByUser: scan: %w", err)
		}
		out = append(out, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return out, nil
}

func scanInvestment(s scanner) (*domain.Investment, error) {
	var i domain.Investment
	if err := s.Scan(
		&i.ID, &i.UserID, &i.WalletID, &i.Principal, &i.Currency, &i.RateBPS, &i.DurationDays,
		&i.Status, &i.StartedAt, &i.MaturesAt, &i.LiquidatedAt, &i.Returned, &i.Penalty,
	); err != nil {
		return nil, err
	}
	return &i, nil
}
