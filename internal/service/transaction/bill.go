package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type BillRequest struct {
	UserID      uuid.UUID
	WalletID    uuid.UUID
	Amount      int64
	Reference   string
	Biller      string
	Category    string
	CustomerRef string
	Credentials authz.Credentials
}

// PayBill debits the wallet to settlement, then asks the biller to vend. If
// the biller fails after its retries, the debit is compensated by a reversal
// and the bill payment ends reversed.
func (s *Service) PayBill(ctx context.Context, req BillRequest) (*domain.Transaction, error) {
	log := logging.FromContext(ctx)

	if req.Biller == "" || req.CustomerRef == "" {
		return nil, fmt.Errorf("PayBill: %w", domain.NewValidationError("biller", "biller and customer reference are required"))
	}
	w, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}
	fee, err := s.authorizeDebit(ctx, req.UserID, w, domain.TransactionTypeBillPayment, req.Amount, req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}
	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, w.Currency)
	if err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}

	md := domain.BillPaymentMetadata{Biller: req.Biller, Category: req.Category, CustomerRef: req.CustomerRef}
	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeBillPayment,
		Reference:   newReference(req.Reference, "bill"),
		Currency:    w.Currency,
		Source:      w.ID,
		Dest:        settlement,
		Amount:      req.Amount,
		Fee:         fee,
		Primary:     ledger.SideSource,
		Description: req.Biller + " " + req.CustomerRef,
		Metadata:    domain.NewMetadata(md),
		Actor:       userActor(req.UserID),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}

	txn := res.Transaction
	if txn.Status != domain.TransactionStatusCompleted || txn.ProviderRef != nil {
		return txn, nil
	}

	vend, err := s.provider.VendBill(ctx, VendRequest{
		Reference:   txn.Reference,
		Biller:      req.Biller,
		CustomerRef: req.CustomerRef,
		Amount:      req.Amount,
		Currency:    w.Currency,
	})
	if err != nil {
		log.Warn("biller failed, reversing bill payment", "transaction_id", txn.ID, "error", err)
		if _, revErr := s.engine.Reverse(ctx, txn.ID, ledger.ReverseOptions{
			Reason: "biller failed",
			Actor:  providerActor,
		}, nil); revErr != nil {
			return nil, fmt.Errorf("PayBill: %w", errors.Join(err, fmt.Errorf("reversal: %w", revErr)))
		}
		return nil, fmt.Errorf("PayBill: %w", err)
	}

	if err := s.transactions.SetProviderRef(ctx, txn.ID, vend.ProviderRef); err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}
	md.Token = vend.Token
	if err := s.transactions.UpdateMetadata(ctx, txn.ID, domain.NewMetadata(md)); err != nil {
		return nil, fmt.Errorf("PayBill: %w", err)
	}
	txn.ProviderRef = &vend.ProviderRef
	txn.Metadata = domain.NewMetadata(md)

	log.Info("bill paid",
		"transaction_id", txn.ID, "biller", req.Biller, "amount", req.Amount, "provider_ref", vend.ProviderRef)
	return txn, nil
}
