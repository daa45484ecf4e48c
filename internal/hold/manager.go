// Package hold reserves part of a wallet's balance. A hold raises the
// wallet's held balance, which lowers its available balance without moving
// money; the hold is later released, captured by a ledger posting, or
// expired by the sweeper.
package hold

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type walletRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, tx *sql.Tx, w *domain.Wallet, balance, held int64) error
}

type holdRepo interface {
	Create(ctx context.Context, tx *sql.Tx, h *domain.Hold) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Hold, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Hold, error)
	GetByReference(ctx context.Context, reference string) (*domain.Hold, error)
	Close(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.HoldStatus, reason string, at time.Time) error
	ListActiveByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Hold, error)
}

type PlaceRequest struct {
	WalletID  uuid.UUID
	Amount    int64
	Reason    domain.HoldReason
	Reference string
	Metadata  []byte
}

func (r PlaceRequest) validate() error {
	if r.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !r.Reason.IsValid() {
		return domain.NewValidationError("reason", "must be one of card_funding, withdrawal, dispute, manual")
	}
	return nil
}

type Manager struct {
	db      *sql.DB
	wallets walletRepo
	holds   holdRepo
	now     func() time.Time
}

func NewManager(db *sql.DB, wallets walletRepo, holds holdRepo) *Manager {
	return &Manager{
		db:      db,
		wallets: wallets,
		holds:   holds,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Place reserves req.Amount on the wallet. It fails with
// ErrInsufficientFunds when the available balance is short. Placing again
// with the same reference returns the existing hold.
func (m *Manager) Place(ctx context.Context, req PlaceRequest) (*domain.Hold, error) {
	if existing, err := m.existing(ctx, req); existing != nil || err != nil {
		if err != nil {
			return nil, fmt.Errorf("Place: %w", err)
		}
		return existing, nil
	}

	var h *domain.Hold
	err := repository.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		h, err = m.PlaceTx(ctx, tx, req)
		return err
	})
	if repository.IsUniqueViolation(err, "holds_reference_key") {
		existing, lookupErr := m.existing(ctx, req)
		if lookupErr != nil {
			return nil, fmt.Errorf("Place: %w", lookupErr)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("Place: %w", err)
	}

	metrics.HoldsPlaced.WithLabelValues(string(h.Reason)).Inc()
	logging.FromContext(ctx).Info("hold placed",
		"hold_id", h.ID, "wallet_id", h.WalletID, "amount", h.Amount, "reason", h.Reason)
	return h, nil
}

// PlaceTx places a hold inside the caller's transaction. The caller must not
// already hold locks on other wallets with a greater id.
func (m *Manager) PlaceTx(ctx context.Context, tx *sql.Tx, req PlaceRequest) (*domain.Hold, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("PlaceTx: %w", err)
	}

	w, err := m.wallets.GetForUpdate(ctx, tx, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("PlaceTx: %w", err)
	}
	switch w.Status {
	case domain.WalletStatusActive:
	case domain.WalletStatusFrozen:
		// Disputes freeze funds on wallets that may already be frozen.
		if req.Reason != domain.HoldReasonDispute {
			return nil, fmt.Errorf("PlaceTx: %w", domain.ErrWalletFrozen)
		}
	default:
		return nil, fmt.Errorf("PlaceTx: %w", domain.ErrWalletClosed)
	}
	if w.AvailableBalance() < req.Amount {
		return nil, fmt.Errorf("PlaceTx: available %d, hold %d: %w",
			w.AvailableBalance(), req.Amount, domain.ErrInsufficientFunds)
	}

	h := &domain.Hold{
		ID:        uuid.New(),
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Status:    domain.HoldStatusActive,
		Metadata:  req.Metadata,
		CreatedAt: m.now(),
	}
	if req.Reference != "" {
		ref := req.Reference
		h.Reference = &ref
	}

	if err := m.holds.Create(ctx, tx, h); err != nil {
		return nil, fmt.Errorf("PlaceTx: %w", err)
	}
	if err := m.wallets.UpdateBalances(ctx, tx, w, w.Balance, w.HeldBalance+req.Amount); err != nil {
		return nil, fmt.Errorf("PlaceTx: %w", err)
	}
	return h, nil
}

// existing returns the hold already placed under req.Reference, or nil.
func (m *Manager) existing(ctx context.Context, req PlaceRequest) (*domain.Hold, error) {
	if req.Reference == "" {
		return nil, nil
	}
	h, err := m.holds.GetByReference(ctx, req.Reference)
	if errors.Is(err, domain.ErrHoldNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if h.WalletID != req.WalletID || h.Amount != req.Amount || h.Reason != req.Reason {
		return nil, fmt.Errorf("hold reference %q: %w", req.Reference, domain.ErrIdempotencyConflict)
	}
	return h, nil
}

// Release returns an active hold's amount to the available balance.
// Releasing a hold that is no longer active returns it unchanged.
func (m *Manager) Release(ctx context.Context, holdID uuid.UUID, cause string) (*domain.Hold, error) {
	var h *domain.Hold
	var changed bool
	err := repository.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		h, changed, err = m.close(ctx, tx, holdID, domain.HoldStatusReleased, cause, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}
	if changed {
		metrics.HoldsReleased.WithLabelValues(string(h.Reason), string(domain.HoldStatusReleased)).Inc()
		logging.FromContext(ctx).Info("hold released",
			"hold_id", h.ID, "wallet_id", h.WalletID, "amount", h.Amount, "cause", cause)
	}
	return h, nil
}

// ReleaseTx closes a hold with the given status inside the caller's
// transaction. It locks the hold's wallet and then the hold. A hold that is
// no longer active is returned unchanged.
func (m *Manager) ReleaseTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID, status domain.HoldStatus, cause string) (*domain.Hold, error) {
	h, changed, err := m.close(ctx, tx, holdID, status, cause, nil)
	if err != nil {
		return nil, fmt.Errorf("ReleaseTx: %w", err)
	}
	if changed {
		metrics.HoldsReleased.WithLabelValues(string(h.Reason), string(status)).Inc()
	}
	return h, nil
}

// close moves an active hold to status and gives its amount back to the
// wallet. check, when set, is evaluated on the locked hold and can veto the
// close.
func (m *Manager) close(ctx context.Context, tx *sql.Tx, holdID uuid.UUID, status domain.HoldStatus, cause string, check func(*domain.Hold) bool) (*domain.Hold, bool, error) {
	if status == domain.HoldStatusActive {
		return nil, false, domain.NewValidationError("status", "must be a closing status")
	}

	current, err := m.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, false, err
	}
	if !current.IsActive() {
		return current, false, nil
	}

	w, err := m.wallets.GetForUpdate(ctx, tx, current.WalletID)
	if err != nil {
		return nil, false, err
	}
	h, err := m.holds.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		return nil, false, err
	}
	if !h.IsActive() || (check != nil && !check(h)) {
		return h, false, nil
	}

	now := m.now()
	if err := m.holds.Close(ctx, tx, h.ID, status, cause, now); err != nil {
		return nil, false, err
	}
	if err := m.wallets.UpdateBalances(ctx, tx, w, w.Balance, w.HeldBalance-h.Amount); err != nil {
		return nil, false, err
	}

	h.Status = status
	h.ReleasedAt = &now
	h.ReleaseReason = &cause
	return h, true, nil
}

func (m *Manager) Get(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	h, err := m.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return h, nil
}

func (m *Manager) GetByReference(ctx context.Context, reference string) (*domain.Hold, error) {
	h, err := m.holds.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return h, nil
}

func (m *Manager) ListActive(ctx context.Context, walletID uuid.UUID) ([]domain.Hold, error) {
	holds, err := m.holds.ListActiveByWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	return holds, nil
}
