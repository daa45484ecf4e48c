// Package transaction runs the money-movement workflows. Each workflow
// authorizes the debit, prices it, and hands every balance change to the
// ledger engine; provider calls happen outside any database lock.
package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/pricing"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type ledgerEngine interface {
	Apply(ctx context.Context, entry ledger.Entry, within ledger.Within) (*ledger.Result, error)
	Reverse(ctx context.Context, originalID uuid.UUID, opts ledger.ReverseOptions, within ledger.Within) (*ledger.Result, error)
}

type holdManager interface {
	Place(ctx context.Context, req hold.PlaceRequest) (*domain.Hold, error)
	PlaceTx(ctx context.Context, tx *sql.Tx, req hold.PlaceRequest) (*domain.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID, cause string) (*domain.Hold, error)
	ReleaseTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID, status domain.HoldStatus, cause string) (*domain.Hold, error)
	Get(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error)
	GetByReference(ctx context.Context, reference string) (*domain.Hold, error)
}

type authorizer interface {
	Authorize(ctx context.Context, walletID uuid.UUID, creds authz.Credentials) error
}

type pricer interface {
	Fee(t domain.TransactionType, amount int64) (int64, error)
	Liquidate(inv *domain.Investment, now time.Time) pricing.Liquidation
}

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
}

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*domain.Transaction, error)
	Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus, failureReason *string) error
	SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, m domain.Metadata) error
	List(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error)
	Statistics(ctx context.Context, f domain.TransactionFilter) (*domain.TransactionStatistics, error)
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.TransactionEvent) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.TransactionEvent, error)
}

type loanRepo interface {
	Create(ctx context.Context, tx *sql.Tx, l *domain.Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Loan, error)
	UpdateOutstanding(ctx context.Context, tx *sql.Tx, id uuid.UUID, outstanding int64, status domain.LoanStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
}

type investmentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, i *domain.Investment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Investment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Investment, error)
	MarkLiquidated(ctx context.Context, tx *sql.Tx, id uuid.UUID, returned, penalty int64, at time.Time) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Investment, error)
}

type disputeRepo interface {
	Create(ctx context.Context, d *domain.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Dispute, error)
	SetHold(ctx context.Context, id, holdID uuid.UUID) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.DisputeStatus) error
	Close(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.DisputeStatus, resolution string, reversalID *uuid.UUID, at time.Time) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Dispute, int, error)
}

// Limits caps a single debit per KYC tier. Zero means unlimited.
type Limits struct {
	Tier1 int64
	Tier2 int64
}

type Deps struct {
	DB           *sql.DB
	Engine       ledgerEngine
	Holds        holdManager
	Gate         authorizer
	Pricer       pricer
	Provider     provider
	Wallets      walletRepo
	Users        userRepo
	Transactions transactionRepo
	Events       eventRepo
	Loans        loanRepo
	Investments  investmentRepo
	Disputes     disputeRepo
	Limits       Limits
}

type Service struct {
	db           *sql.DB
	engine       ledgerEngine
	holds        holdManager
	gate         authorizer
	pricer       pricer
	provider     provider
	wallets      walletRepo
	users        userRepo
	transactions transactionRepo
	events       eventRepo
	loans        loanRepo
	investments  investmentRepo
	disputes     disputeRepo
	limits       Limits
	now          func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		db:           d.DB,
		engine:       d.Engine,
		holds:        d.Holds,
		gate:         d.Gate,
		pricer:       d.Pricer,
		provider:     d.Provider,
		wallets:      d.Wallets,
		users:        d.Users,
		transactions: d.Transactions,
		events:       d.Events,
		loans:        d.Loans,
		investments:  d.Investments,
		disputes:     d.Disputes,
		limits:       d.Limits,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func userActor(userID uuid.UUID) string {
	return "user:" + userID.String()
}

const providerActor = "provider"

// newReference returns the client's reference, or a fresh one when the
// client sent none.
func newReference(given, prefix string) string {
	if given != "" {
		return given
	}
	return prefix + "_" + uuid.NewString()
}

// ownedWallet loads a user wallet belonging to userID. Wallets of other users
// are reported as not found.
func (s *Service) ownedWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID || w.WalletType != domain.WalletTypeUser {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

// authorizeDebit runs the checks every debit goes through via authorize,
// then prices it. It returns the fee.
func (s *Service) authorizeDebit(ctx context.Context, userID uuid.UUID, w *domain.Wallet, t domain.TransactionType, amount int64, creds authz.Credentials) (int64, error) {
	if err := s.authorize(ctx, userID, w, amount, creds); err != nil {
		return 0, err
	}
	return s.pricer.Fee(t, amount)
}

// authorize checks the amount, the credentials and the KYC tier limit.
func (s *Service) authorize(ctx context.Context, userID uuid.UUID, w *domain.Wallet, amount int64, creds authz.Credentials) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := s.gate.Authorize(ctx, w.ID, creds); err != nil {
		return err
	}
	return s.checkKYC(ctx, userID, amount)
}

func (s *Service) checkKYC(ctx context.Context, userID uuid.UUID, amount int64) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	var limit int64
	switch u.KYCTier {
	case domain.KYCTierNone:
		return fmt.Errorf("tier %d: %w", u.KYCTier, domain.ErrKYCRequired)
	case domain.KYCTierBasic:
		limit = s.limits.Tier1
	case domain.KYCTierStandard:
		limit = s.limits.Tier2
	}
	if limit > 0 && amount > limit {
		return fmt.Errorf("amount %d exceeds tier %d limit %d: %w", amount, u.KYCTier, limit, domain.ErrKYCRequired)
	}
	return nil
}

// existingByReference returns the transaction already recorded under ref, or
// nil. A transaction of another type, wallet or amount is a conflict.
func (s *Service) existingByReference(ctx context.Context, ref string, t domain.TransactionType, walletID uuid.UUID, amount int64) (*domain.Transaction, error) {
	txn, err := s.transactions.GetByReference(ctx, ref)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if txn.Type != t || txn.WalletID != walletID || txn.Amount != amount {
		return nil, fmt.Errorf("reference %q: %w", ref, domain.ErrIdempotencyConflict)
	}
	return txn, nil
}

func (s *Service) writeEvent(ctx context.Context, tx *sql.Tx, transactionID uuid.UUID, eventType domain.TransactionEventType, actor string, payload any) error {
	event := &domain.TransactionEvent{
		ID:            uuid.New(),
		TransactionID: transactionID,
		EventType:     eventType,
		Actor:         actor,
		CreatedAt:     s.now(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("writeEvent: %w", err)
		}
		event.Payload = b
	}
	if err := s.events.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("writeEvent: %w", err)
	}
	return nil
}

// recordEvent appends an audit event in its own database transaction.
func (s *Service) recordEvent(ctx context.Context, transactionID uuid.UUID, eventType domain.TransactionEventType, actor string, payload any) error {
	return repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.writeEvent(ctx, tx, transactionID, eventType, actor, payload)
	})
}

// createPending inserts a pending transaction with its created event. A
// concurrent insert under the same reference returns the winner's row.
func (s *Service) createPending(ctx context.Context, txn *domain.Transaction, actor string, before func(tx *sql.Tx) error) (*domain.Transaction, error) {
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		if err := s.transactions.Create(ctx, tx, txn); err != nil {
			return err
		}
		return s.writeEvent(ctx, tx, txn.ID, domain.TransactionEventCreated, actor, nil)
	})
	if repository.IsUniqueViolation(err, "transactions_reference_key", "holds_reference_key") {
		existing, lookupErr := s.existingByReference(ctx, txn.Reference, txn.Type, txn.WalletID, txn.Amount)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// failPending moves a pending transaction to failed and releases its hold
// in the same database transaction. It fails with ErrTransactionTerminal when
// the transaction has already finished.
func (s *Service) failPending(ctx context.Context, txn *domain.Transaction, reason, actor string) error {
	return s.failPendingIf(ctx, txn, reason, actor, nil)
}

// failPendingIf is failPending with a guard run against the locked row
// before anything changes.
func (s *Service) failPendingIf(ctx context.Context, txn *domain.Transaction, reason, actor string, guard func(current *domain.Transaction) error) error {
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if txn.HoldID != nil {
			if _, err := s.holds.ReleaseTx(ctx, tx, *txn.HoldID, domain.HoldStatusReleased, reason); err != nil {
				return err
			}
		}

		current, err := s.transactions.GetForUpdate(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.TransactionStatusPending {
			return fmt.Errorf("%s is %s: %w", current.ID, current.Status, domain.ErrTransactionTerminal)
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}
		if err := s.transactions.Transition(ctx, tx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusFailed, &reason); err != nil {
			return err
		}
		return s.writeEvent(ctx, tx, txn.ID, domain.TransactionEventFailed, actor, map[string]string{"reason": reason})
	})
	if err != nil {
		return fmt.Errorf("failPending: %w", err)
	}

	logging.FromContext(ctx).Info("transaction failed",
		"transaction_id", txn.ID, "reference", txn.Reference, "type", txn.Type, "reason", reason)
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	ok, err := s.involves(ctx, userID, txn)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("GetTransaction: %w", domain.ErrTransactionNotFound)
	}
	return txn, nil
}

// involves reports whether either wallet of txn belongs to userID.
func (s *Service) involves(ctx context.Context, userID uuid.UUID, txn *domain.Transaction) (bool, error) {
	ids := []uuid.UUID{txn.WalletID}
	if txn.CounterpartyWalletID != nil {
		ids = append(ids, *txn.CounterpartyWalletID)
	}
	for _, id := range ids {
		_, err := s.ownedWallet(ctx, userID, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrWalletNotFound) {
			return false, err
		}
	}
	return false, nil
}

func (s *Service) ListTransactionEvents(ctx context.Context, userID, transactionID uuid.UUID) ([]domain.TransactionEvent, error) {
	if _, err := s.GetTransaction(ctx, userID, transactionID); err != nil {
		return nil, fmt.Errorf("ListTransactionEvents: %w", err)
	}
	events, err := s.events.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionEvents: %w", err)
	}
	return events, nil
}

// ListTransactions pages through the user's transactions, newest first.
// A wallet filter must name one of the user's wallets.
func (s *Service) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error) {
	if f.WalletID != nil {
		if _, err := s.ownedWallet(ctx, f.UserID, *f.WalletID); err != nil {
			return nil, 0, fmt.Errorf("ListTransactions: %w", err)
		}
	}
	txns, total, err := s.transactions.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTransactions: %w", err)
	}
	return txns, total, nil
}

func (s *Service) Statistics(ctx context.Context, f domain.TransactionFilter) (*domain.TransactionStatistics, error) {
	if f.WalletID != nil {
		if _, err := s.ownedWallet(ctx, f.UserID, *f.WalletID); err != nil {
			return nil, fmt.Errorf("Statistics: %w", err)
		}
	}
	stats, err := s.transactions.Statistics(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("Statistics: %w", err)
	}
	return stats, nil
}
