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

// PinAttemptRepository keeps PIN attempt counters in postgres. The upsert in
// Begin takes the row lock, so concurrent attempts on one wallet are counted
// one at a time.
type PinAttemptRepository struct {
	db     *sql.DB
	policy domain.LockoutPolicy
}

func NewPinAttemptRepository(db *sql.DB, policy domain.LockoutPolicy) *PinAttemptRepository {
	return &PinAttemptRepository{db: db, policy: policy}
}

func (r *PinAttemptRepository) LockedUntil(ctx context.Context, walletID uuid.UUID, now time.Time) (*time.Time, error) {
	var until time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT locked_until FROM pin_attempts WHERE wallet_id = $1 AND locked_until > $2`,
		walletID, now,
	).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LockedUntil: %w", err)
	}
	return &until, nil
}

// Begin counts an attempt in the current window before its credential is
// compared. An attempt on a locked wallet is refused without being counted;
// one past the policy maximum locks the wallet and is refused.
func (r *PinAttemptRepository) Begin(ctx context.Context, walletID uuid.UUID, now time.Time) (*domain.PinAttempt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Begin: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		count       int
		lockedUntil sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`INSERT INTO pin_attempts AS p (wallet_id, failures, window_started_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (wallet_id) DO UPDATE SET
			failures = CASE
				WHEN p.locked_until > $2 THEN p.failures
				WHEN p.window_started_at < $3 THEN 1
				ELSE p.failures + 1
			END,
			window_started_at = CASE
				WHEN p.locked_until > $2 THEN p.window_started_at
				WHEN p.window_started_at < $3 THEN $2
				ELSE p.window_started_at
			END
		RETURNING failures, locked_until`,
		walletID, now, now.Add(-r.policy.Window),
	).Scan(&count, &lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}

	attempt := &domain.PinAttempt{Count: count, Final: count >= r.policy.MaxAttempts}
	switch {
	case lockedUntil.Valid && lockedUntil.Time.After(now):
		until := lockedUntil.Time
		attempt.LockedUntil = &until
	case count > r.policy.MaxAttempts:
		until, err := r.lock(ctx, tx, walletID, now)
		if err != nil {
			return nil, fmt.Errorf("Begin: %w", err)
		}
		attempt.LockedUntil = &until
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Begin: commit: %w", err)
	}
	return attempt, nil
}

// Lock starts the cooldown and clears the counter for the next window.
func (r *PinAttemptRepository) Lock(ctx context.Context, walletID uuid.UUID, now time.Time) (time.Time, error) {
	until, err := r.lock(ctx, r.db, walletID, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("Lock: %w", err)
	}
	return until, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PinAttemptRepository) lock(ctx context.Context, db execer, walletID uuid.UUID, now time.Time) (time.Time, error) {
	until := now.Add(r.policy.Cooldown)
	if _, err := db.ExecContext(ctx,
		`UPDATE pin_attempts SET failures = 0, window_started_at = $1, locked_until = $2
		WHERE wallet_id = $3`,
		now, until, walletID,
	); err != nil {
		return time.Time{}, fmt.Errorf("lock: %w", err)
	}
	return until, nil
}

func (r *PinAttemptRepository) Reset(ctx context.Context, walletID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pin_attempts SET failures = 0 WHERE wallet_id = $1 AND failures > 0`, walletID,
	)
	if err != nil {
		return fmt.Errorf("Reset: %w", err)
	}
	return nil
}

func (r *PinAttemptRepository) Failures(ctx context.Context, walletID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT failures FROM pin_attempts WHERE wallet_id = $1 AND window_started_at >= $2`,
		walletID, now.Add(-r.policy.Window),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("Failures: %w", err)
	}
	return n, nil
}
