package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

type WithdrawalRequest struct {
	UserID        uuid.UUID
	WalletID      uuid.UUID
	Amount        int64
	Reference     string
	BankCode      string
	AccountNumber string
	AccountName   string
	Credentials   authz.Credentials
}

// InitiateWithdrawal reserves amount plus fee with a withdrawal hold and
// records a pending transaction in the same database transaction, then
// submits the payout. The balance only moves when the provider confirms the
// payout and the hold is captured. A payout the provider refuses releases
// the hold and fails the transaction. When the submission's outcome is
// unknown the withdrawal stays pending on its hold until the provider's
// callback settles it.
func (s *Service) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error) {
	log := logging.FromContext(ctx)

	if req.BankCode == "" || req.AccountNumber == "" {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", domain.NewValidationError("account_number", "bank code and account number are required"))
	}
	w, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}
	fee, err := s.authorizeDebit(ctx, req.UserID, w, domain.TransactionTypeWithdrawal, req.Amount, req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}

	ref := newReference(req.Reference, "wdr")
	existing, err := s.existingByReference(ctx, ref, domain.TransactionTypeWithdrawal, w.ID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, w.Currency)
	if err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}

	now := s.now()
	txn := &domain.Transaction{
		ID:                   uuid.New(),
		WalletID:             w.ID,
		CounterpartyWalletID: &settlement,
		Type:                 domain.TransactionTypeWithdrawal,
		Direction:            domain.DirectionDebit,
		Amount:               req.Amount,
		Fee:                  fee,
		Currency:             w.Currency,
		Status:               domain.TransactionStatusPending,
		Reference:            ref,
		Description:          "Withdrawal to " + req.BankCode + "/" + req.AccountNumber,
		Metadata: domain.NewMetadata(domain.WithdrawalMetadata{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var h *domain.Hold
	created, err := s.createPending(ctx, txn, userActor(req.UserID), func(tx *sql.Tx) error {
		var err error
		h, err = s.holds.PlaceTx(ctx, tx, hold.PlaceRequest{
			WalletID:  w.ID,
			Amount:    req.Amount + fee,
			Reason:    domain.HoldReasonWithdrawal,
			Reference: "hold:" + ref,
		})
		if err != nil {
			return err
		}
		txn.HoldID = &h.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}
	if created != txn {
		// Lost a race with a retry of the same request.
		return created, nil
	}
	metrics.HoldsPlaced.WithLabelValues(string(domain.HoldReasonWithdrawal)).Inc()

	providerRef, err := s.provider.SubmitPayout(ctx, PayoutRequest{
		Reference:     ref,
		Amount:        req.Amount,
		Currency:      w.Currency,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	})
	if errors.Is(err, domain.ErrProviderRejected) {
		if failErr := s.failPending(ctx, txn, "payout rejected by provider", providerActor); failErr != nil {
			log.Error("failed to release withdrawal hold", "transaction_id", txn.ID, "error", failErr)
		}
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}
	if err != nil {
		// The provider may have accepted the payout; only its callback can say.
		log.Warn("payout submission outcome unknown, awaiting provider callback",
			"transaction_id", txn.ID, "reference", ref, "error", err)
		if evErr := s.recordEvent(ctx, txn.ID, domain.TransactionEventSubmitted, providerActor, map[string]string{"outcome": "unknown", "error": err.Error()}); evErr != nil {
			log.Warn("failed to record payout submission", "transaction_id", txn.ID, "error", evErr)
		}
		return txn, nil
	}

	if err := s.transactions.SetProviderRef(ctx, txn.ID, providerRef); err != nil {
		return nil, fmt.Errorf("InitiateWithdrawal: %w", err)
	}
	txn.ProviderRef = &providerRef
	if err := s.recordEvent(ctx, txn.ID, domain.TransactionEventSubmitted, providerActor, map[string]string{"provider_ref": providerRef}); err != nil {
		log.Warn("failed to record payout submission", "transaction_id", txn.ID, "error", err)
	}

	log.Info("withdrawal submitted",
		"transaction_id", txn.ID,
		"wallet_id", w.ID,
		"amount", req.Amount,
		"fee", fee,
		"hold_id", h.ID,
		"provider_ref", providerRef,
	)
	return txn, nil
}

// CancelWithdrawal fails a pending withdrawal and releases its hold. Once the
// provider has acknowledged the payout it fails with ErrWithdrawalSubmitted;
// the provider's callback decides the outcome from then on. A completed
// withdrawal can only be undone by a reversal.
func (s *Service) CancelWithdrawal(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("CancelWithdrawal: %w", err)
	}
	if _, err := s.ownedWallet(ctx, userID, txn.WalletID); err != nil {
		return nil, fmt.Errorf("CancelWithdrawal: %w", domain.ErrTransactionNotFound)
	}
	if txn.Type != domain.TransactionTypeWithdrawal {
		return nil, fmt.Errorf("CancelWithdrawal: %w", domain.NewValidationError("transaction_id", "is not a withdrawal"))
	}
	if txn.Status != domain.TransactionStatusPending {
		return nil, fmt.Errorf("CancelWithdrawal: %w", domain.ErrTransactionTerminal)
	}

	err = s.failPendingIf(ctx, txn, "cancelled by user", userActor(userID), func(current *domain.Transaction) error {
		if current.ProviderRef != nil {
			return fmt.Errorf("provider ref %s: %w", *current.ProviderRef, domain.ErrWithdrawalSubmitted)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("CancelWithdrawal: %w", err)
	}

	cancelled, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("CancelWithdrawal: %w", err)
	}
	return cancelled, nil
}

// LateSettlementReference is the reference of the debit booked for a
// withdrawal the provider paid out after it had failed on our side.
func LateSettlementReference(reference string) string {
	return "late:" + reference
}

// settleLateWithdrawal books a payout the provider completed after the
// withdrawal had failed here, typically a cancellation racing the
// submission. Its hold is gone, so the debit stands on the available
// balance; when that is short the error is returned and the callback stays
// up for retry.
func (s *Service) settleLateWithdrawal(ctx context.Context, txn *domain.Transaction, ev domain.ProviderEvent) error {
	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, txn.Currency)
	if err != nil {
		return fmt.Errorf("settleLateWithdrawal: %w", err)
	}

	entry := ledger.Entry{
		Type:        domain.TransactionTypeWithdrawal,
		Reference:   LateSettlementReference(txn.Reference),
		Currency:    txn.Currency,
		Source:      txn.WalletID,
		Dest:        settlement,
		Amount:      txn.Amount,
		Fee:         txn.Fee,
		Primary:     ledger.SideSource,
		Description: txn.Description,
		Metadata:    txn.Metadata,
		Actor:       providerActor,
	}
	res, err := s.engine.Apply(ctx, entry, func(ctx context.Context, tx *sql.Tx, res *ledger.Result) error {
		return s.writeEvent(ctx, tx, txn.ID, domain.TransactionEventSettledLate, providerActor, map[string]string{
			"event_id":      ev.EventID,
			"settlement_id": res.Transaction.ID.String(),
		})
	})
	if err != nil {
		logging.FromContext(ctx).Error("late payout could not be booked",
			"transaction_id", txn.ID, "wallet_id", txn.WalletID, "amount", txn.Amount+txn.Fee, "error", err)
		return fmt.Errorf("settleLateWithdrawal: %w", err)
	}

	if !res.Replayed {
		logging.FromContext(ctx).Warn("late payout booked against available balance",
			"transaction_id", txn.ID, "settlement_id", res.Transaction.ID, "wallet_id", txn.WalletID)
	}
	return nil
}

// reverseLateWithdrawal undoes a late settlement when the provider later
// reports the payout reversed. Without a late settlement there is nothing to
// undo and the callback is recorded as ignored.
func (s *Service) reverseLateWithdrawal(ctx context.Context, txn *domain.Transaction, ev domain.ProviderEvent) error {
	late, err := s.transactions.GetByReference(ctx, LateSettlementReference(txn.Reference))
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return s.ignoreCallback(ctx, txn, ev)
	}
	if err != nil {
		return fmt.Errorf("reverseLateWithdrawal: %w", err)
	}

	if _, err := s.engine.Reverse(ctx, late.ID, ledger.ReverseOptions{
		Reason: callbackReason(ev),
		Actor:  providerActor,
	}, nil); err != nil {
		return fmt.Errorf("reverseLateWithdrawal: %w", err)
	}
	return nil
}
