package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const walletColumns = `id, user_id, currency, wallet_type, name, balance, held_balance,
	version, status, is_default, pin_hash, biometric_enabled, created_at, updated_at`

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return w, nil
}

func (r *WalletRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return w, nil
}

func (r *WalletRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Wallet, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallets WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets
		WHERE user_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByUser: scan: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return wallets, total, nil
}

func (r *WalletRepository) GetDefaultForUser(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets
		WHERE user_id = $1 AND currency = $2 AND wallet_type = 'user' AND status <> 'closed'
		ORDER BY is_default DESC, created_at LIMIT 1`,
		userID, currency,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetDefaultForUser: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("GetDefaultForUser: %w", err)
	}
	return w, nil
}

func (r *WalletRepository) Create(ctx context.Context, tx *sql.Tx, w *domain.Wallet) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (
			id, user_id, currency, wallet_type, name, balance, held_balance,
			version, status, is_default, pin_hash, biometric_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		w.ID, w.UserID, w.Currency, w.WalletType, w.Name, w.Balance, w.HeldBalance,
		w.Version, w.Status, w.IsDefault, w.PinHash, w.BiometricEnabled, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// CountUserWallets locks the user's wallet rows so two concurrent creates
// cannot both see zero and both claim the default flag.
func (r *WalletRepository) CountUserWallets(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM wallets WHERE user_id = $1 FOR UPDATE`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("CountUserWallets: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("CountUserWallets: rows: %w", err)
	}
	return n, nil
}

// UpdateBalances writes balance and held balance, bumping the version. The
// caller holds the row lock; a version mismatch means it did not.
func (r *WalletRepository) UpdateBalances(ctx context.Context, tx *sql.Tx, w *domain.Wallet, balance, held int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $1, held_balance = $2, version = version + 1, updated_at = now()
		WHERE id = $3 AND version = $4`,
		balance, held, w.ID, w.Version,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalances: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalances: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalances: %w", domain.ErrVersionConflict)
	}

	w.Balance = balance
	w.HeldBalance = held
	w.Version++
	return nil
}

func (r *WalletRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	return r.exec(ctx, "UpdateName",
		`UPDATE wallets SET name = $1, updated_at = now() WHERE id = $2`, name, id)
}

func (r *WalletRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WalletStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET status = $1, is_default = is_default AND $1 <> 'closed', updated_at = now()
		WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return requireRow(res, "UpdateStatus", domain.ErrWalletNotFound)
}

// SetDefault moves the user's default flag to id.
func (r *WalletRepository) SetDefault(ctx context.Context, tx *sql.Tx, userID, id uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET is_default = false, updated_at = now()
		WHERE user_id = $1 AND is_default AND id <> $2`, userID, id,
	); err != nil {
		return fmt.Errorf("SetDefault: clear: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET is_default = true, updated_at = now() WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("SetDefault: %w", err)
	}
	return requireRow(res, "SetDefault", domain.ErrWalletNotFound)
}

func (r *WalletRepository) SetPinHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, "SetPinHash",
		`UPDATE wallets SET pin_hash = $1, updated_at = now() WHERE id = $2`, hash, id)
}

// SetPinHashIfUnset stores the first PIN and reports whether it was stored.
func (r *WalletRepository) SetPinHashIfUnset(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET pin_hash = $1, updated_at = now() WHERE id = $2 AND pin_hash IS NULL`, hash, id,
	)
	if err != nil {
		return false, fmt.Errorf("SetPinHashIfUnset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SetPinHashIfUnset: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *WalletRepository) SetBiometricEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.exec(ctx, "SetBiometricEnabled",
		`UPDATE wallets SET biometric_enabled = $1, updated_at = now() WHERE id = $2`, enabled, id)
}

func (r *WalletRepository) SummaryByUser(ctx context.Context, userID uuid.UUID) ([]domain.WalletSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT currency, COUNT(*), COALESCE(SUM(balance), 0), COALESCE(SUM(balance - held_balance), 0),
		        COALESCE(SUM(held_balance), 0)
		FROM wallets WHERE user_id = $1 AND status <> 'closed'
		GROUP BY currency ORDER BY currency`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("SummaryByUser: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletSummary
	for rows.Next() {
		var s domain.WalletSummary
		if err := rows.Scan(&s.Currency, &s.WalletCount, &s.TotalBalance, &s.AvailableBalance, &s.HeldBalance); err != nil {
			return nil, fmt.Errorf("SummaryByUser: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SummaryByUser: rows: %w", err)
	}
	return out, nil
}

func (r *WalletRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireRow(res, op, domain.ErrWalletNotFound)
}

func scanWallet(s scanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.Scan(
		&w.ID, &w.UserID, &w.Currency, &w.WalletType, &w.Name,
		&w.Balance, &w.HeldBalance, &w.Version, &w.Status, &w.IsDefault,
		&w.PinHash, &w.BiometricEnabled, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
