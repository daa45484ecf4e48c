package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Wallet, int, error)
	Create(ctx context.Context, tx *sql.Tx, w *domain.Wallet) error
	CountUserWallets(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (int, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WalletStatus) error
	SetDefault(ctx context.Context, tx *sql.Tx, userID, id uuid.UUID) error
	SummaryByUser(ctx context.Context, userID uuid.UUID) ([]domain.WalletSummary, error)
}

type activeHoldCounter interface {
	CountActiveByWallet(ctx context.Context, tx *sql.Tx, walletID uuid.UUID) (int, error)
}

type userChecker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type WalletService struct {
	db      *sql.DB
	wallets walletRepo
	holds   activeHoldCounter
	users   userChecker
}

func NewWalletService(db *sql.DB, wallets walletRepo, holds activeHoldCounter, users userChecker) *WalletService {
	return &WalletService{db: db, wallets: wallets, holds: holds, users: users}
}

// CreateWallet opens a user wallet. The user's first wallet becomes the
// default.
func (s *WalletService) CreateWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency, name string) (*domain.Wallet, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("CreateWallet: %w", err)
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("CreateWallet: %w", domain.ErrInvalidCurrency)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(currency) + " wallet"
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:         uuid.New(),
		UserID:     userID,
		Currency:   currency,
		WalletType: domain.WalletTypeUser,
		Name:       name,
		Status:     domain.WalletStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		n, err := s.wallets.CountUserWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		w.IsDefault = n == 0
		return s.wallets.Create(ctx, tx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateWallet: %w", err)
	}

	logging.FromContext(ctx).Info("wallet created",
		"wallet_id", w.ID, "currency", currency, "is_default", w.IsDefault)
	return w, nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("GetWallet: %w", err)
	}
	if w.UserID != userID || w.WalletType != domain.WalletTypeUser {
		return nil, fmt.Errorf("GetWallet: %w", domain.ErrWalletNotFound)
	}
	return w, nil
}

func (s *WalletService) ListWallets(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Wallet, int, error) {
	wallets, total, err := s.wallets.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListWallets: %w", err)
	}
	return wallets, total, nil
}

func (s *WalletService) RenameWallet(ctx context.Context, userID, walletID uuid.UUID, name string) (*domain.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("RenameWallet: %w", domain.NewValidationError("name", "is required"))
	}
	w, err := s.GetWallet(ctx, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("RenameWallet: %w", err)
	}
	if err := s.wallets.UpdateName(ctx, w.ID, name); err != nil {
		return nil, fmt.Errorf("RenameWallet: %w", err)
	}
	w.Name = name
	return w, nil
}

func (s *WalletService) SetDefault(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.GetWallet(ctx, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("SetDefault: %w", err)
	}
	if w.Status == domain.WalletStatusClosed {
		return nil, fmt.Errorf("SetDefault: %w", domain.ErrWalletClosed)
	}

	err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Serializes against CreateWallet claiming the default.
		if _, err := s.wallets.CountUserWallets(ctx, tx, userID); err != nil {
			return err
		}
		return s.wallets.SetDefault(ctx, tx, userID, w.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("SetDefault: %w", err)
	}
	w.IsDefault = true
	return w, nil
}

// ChangeStatus freezes or unfreezes a wallet. A frozen wallet refuses new
// debits and holds but still receives compensating credits.
func (s *WalletService) ChangeStatus(ctx context.Context, userID, walletID uuid.UUID, status domain.WalletStatus) (*domain.Wallet, error) {
	if status != domain.WalletStatusActive && status != domain.WalletStatusFrozen {
		return nil, fmt.Errorf("ChangeStatus: %w", domain.NewValidationError("status", "must be active or frozen"))
	}
	if _, err := s.GetWallet(ctx, userID, walletID); err != nil {
		return nil, fmt.Errorf("ChangeStatus: %w", err)
	}

	var w *domain.Wallet
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		w, err = s.wallets.GetForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if w.Status == domain.WalletStatusClosed {
			return domain.ErrWalletClosed
		}
		if err := s.wallets.UpdateStatus(ctx, tx, walletID, status); err != nil {
			return err
		}
		w.Status = status
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ChangeStatus: %w", err)
	}

	logging.FromContext(ctx).Info("wallet status changed", "wallet_id", walletID, "status", status)
	return w, nil
}

// CloseWallet soft-closes an empty wallet. A wallet with a balance or an
// active hold fails with ErrWalletNotEmpty.
func (s *WalletService) CloseWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	if _, err := s.GetWallet(ctx, userID, walletID); err != nil {
		return nil, fmt.Errorf("CloseWallet: %w", err)
	}

	var w *domain.Wallet
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		w, err = s.wallets.GetForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if w.Status == domain.WalletStatusClosed {
			return nil
		}
		active, err := s.holds.CountActiveByWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if w.Balance != 0 || w.HeldBalance != 0 || active > 0 {
			return fmt.Errorf("balance %d, held %d, %d active holds: %w",
				w.Balance, w.HeldBalance, active, domain.ErrWalletNotEmpty)
		}
		if err := s.wallets.UpdateStatus(ctx, tx, walletID, domain.WalletStatusClosed); err != nil {
			return err
		}
		w.Status = domain.WalletStatusClosed
		w.IsDefault = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("CloseWallet: %w", err)
	}

	logging.FromContext(ctx).Info("wallet closed", "wallet_id", walletID)
	return w, nil
}

func (s *WalletService) Summary(ctx context.Context, userID uuid.UUID) ([]domain.WalletSummary, error) {
	summary, err := s.wallets.SummaryByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	return summary, nil
}

type WalletBalance struct {
	WalletID  uuid.UUID
	Currency  domain.Currency
	Balance   int64
	Held      int64
	Available int64
}

func (s *WalletService) Balance(ctx context.Context, userID, walletID uuid.UUID) (*WalletBalance, error) {
	w, err := s.GetWallet(ctx, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("Balance: %w", err)
	}
	return &WalletBalance{
		WalletID:  w.ID,
		Currency:  w.Currency,
		Balance:   w.Balance,
		Held:      w.HeldBalance,
		Available: w.AvailableBalance(),
	}, nil
}
