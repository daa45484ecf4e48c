package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const loanColumns = `id, user_id, wallet_id, principal, outstanding, currency, status, created_at, updated_at`

type LoanRepository struct {
	db *sql.DB
}

func NewLoanRepository(db *sql.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

func (r *LoanRepository) Create(ctx context.Context, tx *sql.Tx, l *domain.Loan) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.UserID, l.WalletID, l.Principal, l.Outstanding, l.Currency, l.Status, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	l, err := scanLoan(r.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", notFound(err, domain.ErrNotFound))
	}
	return l, nil
}

func (r *LoanRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Loan, error) {
	l, err := scanLoan(tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", notFound(err, domain.ErrNotFound))
	}
	return l, nil
}

func (r *LoanRepository) UpdateOutstanding(ctx context.Context, tx *sql.Tx, id uuid.UUID, outstanding int64, status domain.LoanStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE loans SET outstanding = $1, status = $2, updated_at = now() WHERE id = $3`,
		outstanding, status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateOutstanding: %w", err)
	}
	return requireRow(res, "UpdateOutstanding", domain.ErrNotFound)
}

func (r *LoanRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var out []domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByUser: scan: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return out, nil
}

func scanLoan(s scanner) (*domain.Loan, error) {
	var l domain.Loan
	if err := s.Scan(
		&l.ID, &l.UserID, &l.WalletID, &l.Principal, &l.Outstanding,
		&l.Currency, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
