package transaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type TransferRequest struct {
	UserID       uuid.UUID
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       int64
	Reference    string
	Narration    string
	Credentials  authz.Credentials
}

type TransferResult struct {
	Transaction *domain.Transaction
	From        ledger.Balance
	To          ledger.Balance
	Replayed    bool
}

// Transfer moves Amount between two wallets of the same currency. The sender
// pays the fee on top. Retrying with the same reference returns the original
// result without moving money again.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.FromWalletID == req.ToWalletID {
		return nil, fmt.Errorf("Transfer: %w", domain.ErrSelfTransfer)
	}

	from, err := s.ownedWallet(ctx, req.UserID, req.FromWalletID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	to, err := s.wallets.GetByID(ctx, req.ToWalletID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	if to.WalletType != domain.WalletTypeUser {
		return nil, fmt.Errorf("Transfer: %w", domain.ErrWalletNotFound)
	}
	if to.Currency != from.Currency {
		return nil, fmt.Errorf("Transfer: %s to %s: %w", from.Currency, to.Currency, domain.ErrCurrencyMismatch)
	}

	fee, err := s.authorizeDebit(ctx, req.UserID, from, domain.TransactionTypeTransfer, req.Amount, req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeTransfer,
		Reference:   newReference(req.Reference, "trf"),
		Currency:    from.Currency,
		Source:      from.ID,
		Dest:        to.ID,
		Amount:      req.Amount,
		Fee:         fee,
		Primary:     ledger.SideSource,
		Description: req.Narration,
		Metadata:    domain.NewMetadata(domain.TransferMetadata{Narration: req.Narration, RecipientName: to.Name}),
		Actor:       userActor(req.UserID),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	logging.FromContext(ctx).Info("transfer completed",
		"transaction_id", res.Transaction.ID,
		"from_wallet", from.ID,
		"to_wallet", to.ID,
		"amount", req.Amount,
		"fee", fee,
		"replayed", res.Replayed,
	)

	return &TransferResult{
		Transaction: res.Transaction,
		From:        res.BalanceOf(from.ID),
		To:          res.BalanceOf(to.ID),
		Replayed:    res.Replayed,
	}, nil
}
