package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type DepositRequest struct {
	UserID    uuid.UUID
	WalletID  uuid.UUID
	Amount    int64
	Reference string
	Channel   string
}

// InitiateDeposit records a pending deposit and opens a payment session with
// the provider. The wallet is credited only once the provider confirms,
// through VerifyDeposit or a callback.
func (s *Service) InitiateDeposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("InitiateDeposit: %w", domain.ErrInvalidAmount)
	}
	w, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	switch w.Status {
	case domain.WalletStatusActive:
	case domain.WalletStatusFrozen:
		return nil, fmt.Errorf("InitiateDeposit: %w", domain.ErrWalletFrozen)
	default:
		return nil, fmt.Errorf("InitiateDeposit: %w", domain.ErrWalletClosed)
	}

	ref := newReference(req.Reference, "dep")
	existing, err := s.existingByReference(ctx, ref, domain.TransactionTypeDeposit, w.ID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	if existing != nil && (existing.ProviderRef != nil || existing.Status.IsTerminal()) {
		return existing, nil
	}

	txn := existing
	if txn == nil {
		settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, w.Currency)
		if err != nil {
			return nil, fmt.Errorf("InitiateDeposit: %w", err)
		}
		now := s.now()
		txn, err = s.createPending(ctx, &domain.Transaction{
			ID:                   uuid.New(),
			WalletID:             w.ID,
			CounterpartyWalletID: &settlement,
			Type:                 domain.TransactionTypeDeposit,
			Direction:            domain.DirectionCredit,
			Amount:               req.Amount,
			Currency:             w.Currency,
			Status:               domain.TransactionStatusPending,
			Reference:            ref,
			Description:          "Deposit",
			Metadata:             domain.NewMetadata(domain.DepositMetadata{Channel: req.Channel}),
			CreatedAt:            now,
			UpdatedAt:            now,
		}, userActor(req.UserID), nil)
		if err != nil {
			return nil, fmt.Errorf("InitiateDeposit: %w", err)
		}
	}

	session, err := s.provider.InitiateDeposit(ctx, DepositInit{
		Reference: txn.Reference,
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		Channel:   req.Channel,
	})
	if err != nil {
		if failErr := s.failPending(ctx, txn, "provider rejected deposit", providerActor); failErr != nil {
			logging.FromContext(ctx).Error("failed to mark deposit failed", "transaction_id", txn.ID, "error", failErr)
		}
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}

	if err := s.transactions.SetProviderRef(ctx, txn.ID, session.ProviderRef); err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	md := domain.DepositMetadata{Channel: req.Channel, PaymentURL: session.PaymentURL}
	if err := s.transactions.UpdateMetadata(ctx, txn.ID, domain.NewMetadata(md)); err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	txn.ProviderRef = &session.ProviderRef
	txn.Metadata = domain.NewMetadata(md)

	logging.FromContext(ctx).Info("deposit initiated",
		"transaction_id", txn.ID, "wallet_id", w.ID, "amount", txn.Amount, "provider_ref", session.ProviderRef)
	return txn, nil
}

// VerifyDeposit asks the provider for the deposit's status and finalizes a
// pending deposit accordingly. A deposit already finalized is returned as is.
func (s *Service) VerifyDeposit(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("VerifyDeposit: %w", err)
	}
	if txn.Type != domain.TransactionTypeDeposit {
		return nil, fmt.Errorf("VerifyDeposit: %w", domain.NewValidationError("transaction_id", "is not a deposit"))
	}
	if txn.Status.IsTerminal() || txn.ProviderRef == nil {
		return txn, nil
	}

	status, err := s.provider.VerifyDeposit(ctx, *txn.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("VerifyDeposit: %w", err)
	}

	switch status.Status {
	case ProviderStatusCompleted:
		res, err := s.completePending(ctx, txn, userActor(userID))
		if err != nil {
			return nil, fmt.Errorf("VerifyDeposit: %w", err)
		}
		return res.Transaction, nil
	case ProviderStatusFailed:
		reason := status.Reason
		if reason == "" {
			reason = "deposit failed at provider"
		}
		if err := s.failPending(ctx, txn, reason, userActor(userID)); err != nil && !errors.Is(err, domain.ErrTransactionTerminal) {
			return nil, fmt.Errorf("VerifyDeposit: %w", err)
		}
		failed, err := s.transactions.GetByID(ctx, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("VerifyDeposit: %w", err)
		}
		return failed, nil
	default:
		return txn, nil
	}
}

// completePending posts a pending deposit or withdrawal to the ledger. A
// withdrawal captures the hold it placed at initiation.
func (s *Service) completePending(ctx context.Context, txn *domain.Transaction, actor string) (*ledger.Result, error) {
	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, txn.Currency)
	if err != nil {
		return nil, err
	}

	entry := ledger.Entry{
		Type:        txn.Type,
		Reference:   txn.Reference,
		Currency:    txn.Currency,
		Amount:      txn.Amount,
		Fee:         txn.Fee,
		Description: txn.Description,
		Metadata:    txn.Metadata,
		ProviderRef: txn.ProviderRef,
		Actor:       actor,
		HoldID:      txn.HoldID,
		PendingID:   &txn.ID,
	}
	switch txn.Type {
	case domain.TransactionTypeDeposit:
		entry.Source, entry.Dest, entry.Primary = settlement, txn.WalletID, ledger.SideDest
	case domain.TransactionTypeWithdrawal:
		entry.Source, entry.Dest, entry.Primary = txn.WalletID, settlement, ledger.SideSource
	default:
		return nil, fmt.Errorf("completePending: %s has no pending flow: %w", txn.Type, domain.ErrInvalidRequest)
	}

	res, err := s.engine.Apply(ctx, entry, nil)
	if err != nil {
		return nil, err
	}
	if res.Replayed && res.Transaction.Status != domain.TransactionStatusCompleted {
		return nil, fmt.Errorf("completePending: %s is %s: %w", txn.ID, res.Transaction.Status, domain.ErrTransactionTerminal)
	}
	return res, nil
}
