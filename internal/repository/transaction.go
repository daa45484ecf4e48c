package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const transactionColumns = `id, wallet_id, counterparty_wallet_id, type, direction, amount, fee,
	currency, status, reference, provider_ref, description, metadata,
	balance_before, balance_after, failure_reason, reversal_of, hold_id,
	created_at, updated_at, completed_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (
			id, wallet_id, counterparty_wallet_id, type, direction, amount, fee,
			currency, status, reference, provider_ref, description, metadata,
			balance_before, balance_after, failure_reason, reversal_of, hold_id,
			created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21
		)`,
		t.ID, t.WalletID, t.CounterpartyWalletID, t.Type, t.Direction, t.Amount, t.Fee,
		t.Currency, t.Status, t.Reference, t.ProviderRef, t.Description, metadata,
		t.BalanceBefore, t.BalanceAfter, t.FailureReason, t.ReversalOf, t.HoldID,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.getOne(ctx, r.db, "GetByID", `WHERE id = $1`, id)
}

func (r *TransactionRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transaction, error) {
	return r.getOne(ctx, tx, "GetForUpdate", `WHERE id = $1 FOR UPDATE`, id)
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return r.getOne(ctx, r.db, "GetByReference", `WHERE reference = $1`, reference)
}

func (r *TransactionRepository) GetByProviderRef(ctx context.Context, providerRef string) (*domain.Transaction, error) {
	return r.getOne(ctx, r.db, "GetByProviderRef", `WHERE provider_ref = $1`, providerRef)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *TransactionRepository) getOne(ctx context.Context, q queryRower, op, where string, args ...any) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, args...)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Complete finalizes a pending transaction with the primary wallet's balances.
func (r *TransactionRepository) Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, balanceBefore, balanceAfter int64, completedAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transactions
		SET status = 'completed', balance_before = $1, balance_after = $2,
		    completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		balanceBefore, balanceAfter, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return requireRow(res, "Complete", domain.ErrTransactionTerminal)
}

// Transition moves a transaction from one status to another. It fails with
// ErrTransactionTerminal when the row is no longer in the from status.
func (r *TransactionRepository) Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus, failureReason *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transactions
		SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, failureReason, id, from,
	)
	if err != nil {
		return fmt.Errorf("Transition: %w", err)
	}
	return requireRow(res, "Transition", domain.ErrTransactionTerminal)
}

func (r *TransactionRepository) SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET provider_ref = $1, updated_at = now()
		WHERE id = $2 AND (provider_ref IS NULL OR provider_ref = $1)`,
		providerRef, id,
	)
	if err != nil {
		return fmt.Errorf("SetProviderRef: %w", err)
	}
	return requireRow(res, "SetProviderRef", domain.ErrInvalidRequest)
}

func (r *TransactionRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, m domain.Metadata) error {
	metadata, err := encodeMetadata(m)
	if err != nil {
		return fmt.Errorf("UpdateMetadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET metadata = $1, updated_at = now() WHERE id = $2`, metadata, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateMetadata: %w", err)
	}
	return requireRow(res, "UpdateMetadata", domain.ErrTransactionNotFound)
}

func transactionFilterClause(f domain.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f.WalletID != nil {
		add(`(wallet_id = ? OR counterparty_wallet_id = ?)`, *f.WalletID)
	} else {
		add(`(wallet_id IN (SELECT id FROM wallets WHERE user_id = ?)
			OR counterparty_wallet_id IN (SELECT id FROM wallets WHERE user_id = ?))`, f.UserID)
	}
	if f.Type != nil {
		add(`type = ?`, *f.Type)
	}
	if f.Status != nil {
		add(`status = ?`, *f.Status)
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *TransactionRepository) List(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error) {
	where, args := transactionFilterClause(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("List: count: %w", err)
	}

	n := len(args)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions `+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("List: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("List: rows: %w", err)
	}
	return txns, total, nil
}

func (r *TransactionRepository) Statistics(ctx context.Context, f domain.TransactionFilter) (*domain.TransactionStatistics, error) {
	where, args := transactionFilterClause(f)

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(fee), 0)
		FROM transactions `+where+` GROUP BY type, status`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("Statistics: %w", err)
	}
	defer rows.Close()

	stats := &domain.TransactionStatistics{
		ByType:   map[domain.TransactionType]int{},
		ByStatus: map[domain.TransactionStatus]int{},
	}
	for rows.Next() {
		var (
			typ         domain.TransactionType
			status      domain.TransactionStatus
			count       int
			amount, fee int64
		)
		if err := rows.Scan(&typ, &status, &count, &amount, &fee); err != nil {
			return nil, fmt.Errorf("Statistics: scan: %w", err)
		}
		stats.TotalTransactions += count
		stats.ByType[typ] += count
		stats.ByStatus[status] += count
		if status == domain.TransactionStatusCompleted {
			stats.TotalAmount += amount
			stats.TotalFees += fee
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Statistics: rows: %w", err)
	}
	return stats, nil
}

func encodeMetadata(m domain.Metadata) (any, error) {
	if m.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var counterparty, reversalOf, holdID uuid.NullUUID
	var metadata []byte

	err := s.Scan(
		&t.ID, &t.WalletID, &counterparty, &t.Type, &t.Direction, &t.Amount, &t.Fee,
		&t.Currency, &t.Status, &t.Reference, &t.ProviderRef, &t.Description, &metadata,
		&t.BalanceBefore, &t.BalanceAfter, &t.FailureReason, &reversalOf, &holdID,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if counterparty.Valid {
		t.CounterpartyWalletID = &counterparty.UUID
	}
	if reversalOf.Valid {
		t.ReversalOf = &reversalOf.UUID
	}
	if holdID.Valid {
		t.HoldID = &holdID.UUID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}
