package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type DisputeRequest struct {
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Type          domain.DisputeType
	Reason        string
}

// CreateDispute opens a dispute on a completed debit of the user. It tries
// to freeze the disputed amount on the receiving user wallet with a dispute
// hold; when that wallet has less available, whatever is available is held.
func (s *Service) CreateDispute(ctx context.Context, req DisputeRequest) (*domain.Dispute, error) {
	log := logging.FromContext(ctx)

	if !req.Type.IsValid() {
		return nil, fmt.Errorf("CreateDispute: %w", domain.NewValidationError("type", "unknown dispute type"))
	}
	txn, err := s.transactions.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("CreateDispute: %w", err)
	}
	if _, err := s.ownedWallet(ctx, req.UserID, txn.WalletID); err != nil {
		return nil, fmt.Errorf("CreateDispute: %w", domain.ErrTransactionNotFound)
	}
	if txn.Status != domain.TransactionStatusCompleted {
		return nil, fmt.Errorf("CreateDispute: %s is %s: %w", txn.ID, txn.Status, domain.ErrNotReversible)
	}

	now := s.now()
	d := &domain.Dispute{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		UserID:        req.UserID,
		Type:          req.Type,
		Status:        domain.DisputeStatusPending,
		Reason:        req.Reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("CreateDispute: %w", err)
	}

	if h := s.placeDisputeHold(ctx, d, txn); h != nil {
		if err := s.disputes.SetHold(ctx, d.ID, h.ID); err != nil {
			log.Error("failed to link dispute hold", "dispute_id", d.ID, "hold_id", h.ID, "error", err)
		} else {
			d.HoldID = &h.ID
		}
	}

	log.Info("dispute opened", "dispute_id", d.ID, "transaction_id", txn.ID, "type", d.Type, "hold_id", d.HoldID)
	return d, nil
}

// placeDisputeHold is best effort: a failure leaves the dispute without a
// hold and is only logged.
func (s *Service) placeDisputeHold(ctx context.Context, d *domain.Dispute, txn *domain.Transaction) *domain.Hold {
	log := logging.FromContext(ctx)

	if txn.Direction != domain.DirectionDebit || txn.CounterpartyWalletID == nil {
		return nil
	}
	cp, err := s.wallets.GetByID(ctx, *txn.CounterpartyWalletID)
	if err != nil {
		log.Warn("dispute hold skipped", "dispute_id", d.ID, "error", err)
		return nil
	}
	if cp.WalletType != domain.WalletTypeUser {
		return nil
	}

	amount := min(txn.Amount, cp.AvailableBalance())
	if amount <= 0 {
		log.Warn("dispute hold skipped, counterparty has nothing available", "dispute_id", d.ID, "wallet_id", cp.ID)
		return nil
	}

	h, err := s.holds.Place(ctx, hold.PlaceRequest{
		WalletID:  cp.ID,
		Amount:    amount,
		Reason:    domain.HoldReasonDispute,
		Reference: "dispute:" + d.ID.String(),
	})
	if err != nil {
		log.Warn("dispute hold not placed", "dispute_id", d.ID, "wallet_id", cp.ID, "amount", amount, "error", err)
		return nil
	}
	return h
}

func (s *Service) InvestigateDispute(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, error) {
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.disputes.UpdateStatus(ctx, tx, disputeID, domain.DisputeStatusInvestigating)
	})
	if err != nil {
		return nil, fmt.Errorf("InvestigateDispute: %w", err)
	}
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("InvestigateDispute: %w", err)
	}
	return d, nil
}

type ResolveDisputeRequest struct {
	DisputeID  uuid.UUID
	Refund     bool
	Resolution string
	AdminID    uuid.UUID
}

// ResolveDispute closes an open dispute. A refund posts the reversal of the
// disputed transaction, capturing the dispute hold, and closes the dispute
// in the same database transaction. A rejection releases the hold.
func (s *Service) ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, req.DisputeID)
	if err != nil {
		return nil, fmt.Errorf("ResolveDispute: %w", err)
	}
	if !d.Status.IsOpen() {
		return nil, fmt.Errorf("ResolveDispute: %w", domain.ErrDisputeClosed)
	}
	actor := "admin:" + req.AdminID.String()

	if req.Refund {
		err = s.refundDispute(ctx, d, req.Resolution, actor)
	} else {
		err = s.closeDispute(ctx, d, domain.DisputeStatusRejected, req.Resolution, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("ResolveDispute: %w", err)
	}

	resolved, err := s.disputes.GetByID(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("ResolveDispute: %w", err)
	}
	logging.FromContext(ctx).Info("dispute resolved",
		"dispute_id", d.ID, "status", resolved.Status, "reversal_id", resolved.ReversalTransactionID)
	return resolved, nil
}

func (s *Service) refundDispute(ctx context.Context, d *domain.Dispute, resolution, actor string) error {
	res, err := s.engine.Reverse(ctx, d.TransactionID, ledger.ReverseOptions{
		Reason: "dispute " + d.ID.String() + " refunded",
		Actor:  actor,
		HoldID: d.HoldID,
	}, func(ctx context.Context, tx *sql.Tx, res *ledger.Result) error {
		return s.closeDisputeTx(ctx, tx, d.ID, domain.DisputeStatusResolved, resolution, &res.Transaction.ID)
	})
	if err != nil {
		return err
	}
	if !res.Replayed {
		return nil
	}
	// The transaction was reversed by another path; the dispute still needs
	// closing and its hold returned.
	return s.closeDispute(ctx, d, domain.DisputeStatusResolved, resolution, &res.Transaction.ID)
}

// closeDispute releases the dispute's hold and closes it in one database
// transaction.
func (s *Service) closeDispute(ctx context.Context, d *domain.Dispute, status domain.DisputeStatus, resolution string, reversalID *uuid.UUID) error {
	return repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if d.HoldID != nil {
			if _, err := s.holds.ReleaseTx(ctx, tx, *d.HoldID, domain.HoldStatusReleased, "dispute "+string(status)); err != nil {
				return err
			}
		}
		return s.closeDisputeTx(ctx, tx, d.ID, status, resolution, reversalID)
	})
}

func (s *Service) closeDisputeTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.DisputeStatus, resolution string, reversalID *uuid.UUID) error {
	locked, err := s.disputes.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if !locked.Status.IsOpen() {
		return domain.ErrDisputeClosed
	}
	return s.disputes.Close(ctx, tx, id, status, resolution, reversalID, s.now())
}

func (s *Service) GetDispute(ctx context.Context, userID, disputeID uuid.UUID) (*domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("GetDispute: %w", err)
	}
	if d.UserID != userID {
		return nil, fmt.Errorf("GetDispute: %w", domain.ErrDisputeNotFound)
	}
	return d, nil
}

func (s *Service) ListDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Dispute, int, error) {
	ds, total, err := s.disputes.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDisputes: %w", err)
	}
	return ds, total, nil
}
