// Package ledger owns every balance mutation. Each posting runs in one
// database transaction that locks the involved wallet rows in ascending id
// order, writes one ledger entry per wallet and records the transaction row.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, tx *sql.Tx, w *domain.Wallet, balance, held int64) error
}

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, balanceBefore, balanceAfter int64, completedAt time.Time) error
	Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus, failureReason *string) error
}

type holdRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Hold, error)
	Close(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.HoldStatus, reason string, at time.Time) error
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.TransactionEvent) error
}

// Within runs inside the posting's database transaction after the ledger
// mutation. Returning an error rolls the whole posting back.
type Within func(ctx context.Context, tx *sql.Tx, res *Result) error

type Balance struct {
	Before int64
	After  int64
}

type Result struct {
	Transaction *domain.Transaction
	Balances    map[uuid.UUID]Balance
	Replayed    bool
}

// BalanceOf returns the before/after balance of a wallet touched by the
// posting. Untouched wallets return the zero Balance.
func (r *Result) BalanceOf(walletID uuid.UUID) Balance {
	return r.Balances[walletID]
}

type Engine struct {
	db           *sql.DB
	wallets      walletRepo
	entries      entryRepo
	transactions transactionRepo
	holds        holdRepo
	events       eventRepo
	now          func() time.Time
}

func NewEngine(
	db *sql.DB,
	wallets walletRepo,
	entries entryRepo,
	transactions transactionRepo,
	holds holdRepo,
	events eventRepo,
) *Engine {
	return &Engine{
		db:           db,
		wallets:      wallets,
		entries:      entries,
		transactions: transactions,
		holds:        holds,
		events:       events,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type plan struct {
	txn          *domain.Transaction
	legs         []leg
	holdID       *uuid.UUID
	pendingID    *uuid.UUID
	compensating bool
	reversalOf   *domain.Transaction
	actor        string
}

// Apply posts e atomically. A reference that already has a finished
// transaction with the same parameters is replayed; with different
// parameters it fails with ErrIdempotencyConflict.
func (e *Engine) Apply(ctx context.Context, entry Entry, within Within) (*Result, error) {
	if err := entry.validate(); err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}
	legs, err := entry.legs()
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	primary, counterparty := entry.primaryWallet()
	direction := domain.DirectionDebit
	if entry.Primary == SideDest {
		direction = domain.DirectionCredit
	}

	now := e.now()
	p := &plan{
		txn: &domain.Transaction{
			ID:                   uuid.New(),
			WalletID:             primary,
			CounterpartyWalletID: &counterparty,
			Type:                 entry.Type,
			Direction:            direction,
			Amount:               entry.Amount,
			Fee:                  entry.Fee,
			Currency:             entry.Currency,
			Status:               domain.TransactionStatusCompleted,
			Reference:            entry.Reference,
			ProviderRef:          entry.ProviderRef,
			Description:          entry.Description,
			Metadata:             entry.Metadata,
			HoldID:               entry.HoldID,
			CreatedAt:            now,
			UpdatedAt:            now,
			CompletedAt:          &now,
		},
		legs:         mergeLegs(legs),
		holdID:       entry.HoldID,
		pendingID:    entry.PendingID,
		compensating: entry.Compensating,
		actor:        entry.Actor,
	}

	res, err := e.post(ctx, p, within)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}
	return res, nil
}

// ApplyEntry moves amount between walletID and its currency's settlement
// wallet. A debit fails with ErrInsufficientFunds when the wallet's available
// balance is short.
func (e *Engine) ApplyEntry(ctx context.Context, walletID uuid.UUID, amount int64, direction domain.Direction, idempotencyKey string, txType domain.TransactionType) (*Result, error) {
	if !direction.IsValid() {
		return nil, fmt.Errorf("ApplyEntry: %w", domain.NewValidationError("direction", "must be debit or credit"))
	}

	w, err := e.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("ApplyEntry: %w", err)
	}
	settlement, err := domain.SystemWalletID(domain.WalletTypeSettlement, w.Currency)
	if err != nil {
		return nil, fmt.Errorf("ApplyEntry: %w", err)
	}

	entry := Entry{
		Type:      txType,
		Reference: idempotencyKey,
		Currency:  w.Currency,
		Amount:    amount,
	}
	if direction == domain.DirectionDebit {
		entry.Source, entry.Dest, entry.Primary = walletID, settlement, SideSource
	} else {
		entry.Source, entry.Dest, entry.Primary = settlement, walletID, SideDest
	}

	res, err := e.Apply(ctx, entry, nil)
	if err != nil {
		return nil, fmt.Errorf("ApplyEntry: %w", err)
	}
	return res, nil
}

type ReverseOptions struct {
	Reason string
	Actor  string
	// HoldID is captured by the reversal, typically a dispute hold on the
	// wallet the reversal debits.
	HoldID *uuid.UUID
}

// ReversalReference is the reference of the compensating transaction for a
// transaction with the given reference.
func ReversalReference(reference string) string {
	return "reversal:" + reference
}

// Reverse posts the compensating transaction for a completed transaction by
// negating each of its ledger entries, and marks the original reversed.
// Reversing an already reversed transaction replays the existing reversal.
func (e *Engine) Reverse(ctx context.Context, originalID uuid.UUID, opts ReverseOptions, within Within) (*Result, error) {
	orig, err := e.transactions.GetByID(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	ref := ReversalReference(orig.Reference)
	switch orig.Status {
	case domain.TransactionStatusCompleted:
	case domain.TransactionStatusReversed:
		existing, err := e.transactions.GetByReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("Reverse: %w", err)
		}
		res, err := e.replay(ctx, existing)
		if err != nil {
			return nil, fmt.Errorf("Reverse: %w", err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("Reverse: %s is %s: %w", orig.ID, orig.Status, domain.ErrNotReversible)
	}

	entries, err := e.entries.ListByTransaction(ctx, orig.ID)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("Reverse: %s has no ledger entries: %w", orig.ID, domain.ErrNotReversible)
	}
	legs := make([]leg, 0, len(entries))
	for _, en := range entries {
		legs = append(legs, leg{walletID: en.WalletID, delta: -en.Signed()})
	}

	direction := domain.DirectionCredit
	if orig.Direction == domain.DirectionCredit {
		direction = domain.DirectionDebit
	}

	now := e.now()
	p := &plan{
		txn: &domain.Transaction{
			ID:                   uuid.New(),
			WalletID:             orig.WalletID,
			CounterpartyWalletID: orig.CounterpartyWalletID,
			Type:                 domain.TransactionTypeReversal,
			Direction:            direction,
			Amount:               orig.Amount,
			Fee:                  orig.Fee,
			Currency:             orig.Currency,
			Status:               domain.TransactionStatusCompleted,
			Reference:            ref,
			Description:          "Reversal of " + orig.Reference,
			Metadata: domain.NewMetadata(domain.ReversalMetadata{
				OriginalID:        orig.ID,
				OriginalReference: orig.Reference,
				Reason:            opts.Reason,
			}),
			ReversalOf:  &orig.ID,
			HoldID:      opts.HoldID,
			CreatedAt:   now,
			UpdatedAt:   now,
			CompletedAt: &now,
		},
		legs:         mergeLegs(legs),
		holdID:       opts.HoldID,
		compensating: true,
		reversalOf:   orig,
		actor:        opts.Actor,
	}

	res, err := e.post(ctx, p, within)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}
	return res, nil
}

func (e *Engine) post(ctx context.Context, p *plan, within Within) (*Result, error) {
	existing, err := e.transactions.GetByReference(ctx, p.txn.Reference)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
	case err != nil:
		return nil, fmt.Errorf("post: %w", err)
	case p.pendingID != nil && existing.ID == *p.pendingID && existing.Status == domain.TransactionStatusPending:
	default:
		return e.replayIfSame(ctx, p, existing)
	}

	start := time.Now()
	res, err := e.execute(ctx, p, within)
	metrics.LedgerPostingDuration.WithLabelValues(string(p.txn.Type)).Observe(time.Since(start).Seconds())

	lostRace := repository.IsUniqueViolation(err, "transactions_reference_key") ||
		(p.pendingID != nil && errors.Is(err, domain.ErrTransactionTerminal))
	if lostRace {
		// A concurrent posting with the same reference committed first.
		existing, lookupErr := e.transactions.GetByReference(ctx, p.txn.Reference)
		if lookupErr != nil {
			return nil, fmt.Errorf("post: %w", lookupErr)
		}
		return e.replayIfSame(ctx, p, existing)
	}
	if err != nil && repository.IsCheckViolation(err) {
		err = fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
	}

	metrics.LedgerPostings.WithLabelValues(string(p.txn.Type), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}

	logging.FromContext(ctx).Info("ledger posting committed",
		"transaction_id", res.Transaction.ID,
		"reference", res.Transaction.Reference,
		"type", res.Transaction.Type,
		"wallet_id", res.Transaction.WalletID,
		"amount", res.Transaction.Amount,
		"fee", res.Transaction.Fee,
		"currency", res.Transaction.Currency,
		"balance_before", derefInt(res.Transaction.BalanceBefore),
		"balance_after", derefInt(res.Transaction.BalanceAfter),
	)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, p *plan, within Within) (*Result, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("execute: begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]uuid.UUID, 0, len(p.legs)+1)
	for _, l := range p.legs {
		ids = append(ids, l.walletID)
	}
	ids = append(ids, p.txn.WalletID)

	locked, err := LockWalletsInOrder(ctx, tx, e.wallets, ids...)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	for _, l := range p.legs {
		if err := checkLeg(locked[l.walletID], l, p.txn.Currency, p.compensating, p.holdID != nil); err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
	}

	released, err := e.captureHold(ctx, tx, p, locked)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	now := p.txn.CreatedAt
	primary := locked[p.txn.WalletID]
	primaryBefore := primary.Balance
	balances := make(map[uuid.UUID]Balance, len(p.legs))
	entries := make([]*domain.LedgerEntry, 0, len(p.legs))

	for _, l := range p.legs {
		w := locked[l.walletID]
		before := w.Balance
		after := before + l.delta
		held := w.HeldBalance - released[w.ID]

		if l.delta < 0 && !w.WalletType.AllowsNegative() && after-held < 0 {
			return nil, fmt.Errorf("execute: wallet %s available %d, needs %d: %w",
				w.ID, before-held, -l.delta, domain.ErrInsufficientFunds)
		}

		if err := e.wallets.UpdateBalances(ctx, tx, w, after, held); err != nil {
			return nil, fmt.Errorf("execute: update %s: %w", w.ID, err)
		}
		delete(released, w.ID)
		balances[w.ID] = Balance{Before: before, After: after}

		entry := &domain.LedgerEntry{
			ID:            uuid.New(),
			WalletID:      w.ID,
			EntryType:     domain.EntryTypeCredit,
			Amount:        l.delta,
			Currency:      p.txn.Currency,
			BalanceBefore: before,
			BalanceAfter:  after,
			CreatedAt:     now,
		}
		if l.delta < 0 {
			entry.EntryType = domain.EntryTypeDebit
			entry.Amount = -l.delta
		}
		entries = append(entries, entry)
	}

	// A captured hold on a wallet with no leg only moves held balance.
	for walletID, amount := range released {
		w := locked[walletID]
		if err := e.wallets.UpdateBalances(ctx, tx, w, w.Balance, w.HeldBalance-amount); err != nil {
			return nil, fmt.Errorf("execute: release held on %s: %w", w.ID, err)
		}
	}

	primaryAfter := primary.Balance
	p.txn.BalanceBefore = &primaryBefore
	p.txn.BalanceAfter = &primaryAfter

	txn, err := e.writeTransaction(ctx, tx, p)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	for _, entry := range entries {
		entry.TransactionID = txn.ID
		if err := e.entries.Create(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("execute: ledger entry: %w", err)
		}
	}

	if p.reversalOf != nil {
		if err := e.transactions.Transition(ctx, tx, p.reversalOf.ID,
			domain.TransactionStatusCompleted, domain.TransactionStatusReversed, nil); err != nil {
			return nil, fmt.Errorf("execute: mark reversed: %w", err)
		}
		if err := e.writeEvent(ctx, tx, p.reversalOf.ID, domain.TransactionEventReversed, p.actor, now); err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
	}

	res := &Result{Transaction: txn, Balances: balances}
	if within != nil {
		if err := within(ctx, tx, res); err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("execute: commit: %w", err)
	}
	return res, nil
}

// checkLeg validates one wallet of a posting. A frozen wallet still accepts
// compensating credits and debits that capture funds held before the freeze.
func checkLeg(w *domain.Wallet, l leg, currency domain.Currency, compensating, capturing bool) error {
	if w.Currency != currency {
		return fmt.Errorf("wallet %s is %s, posting is %s: %w", w.ID, w.Currency, currency, domain.ErrCurrencyMismatch)
	}
	switch w.Status {
	case domain.WalletStatusActive:
		return nil
	case domain.WalletStatusFrozen:
		if (l.delta > 0 && compensating) || (l.delta < 0 && capturing) {
			return nil
		}
		return fmt.Errorf("wallet %s: %w", w.ID, domain.ErrWalletFrozen)
	default:
		return fmt.Errorf("wallet %s: %w", w.ID, domain.ErrWalletClosed)
	}
}

// captureHold closes the plan's hold as captured and returns the held amount
// to drop per wallet. A hold that is no longer active releases nothing, and
// the posting then stands on the wallet's available balance alone.
func (e *Engine) captureHold(ctx context.Context, tx *sql.Tx, p *plan, locked map[uuid.UUID]*domain.Wallet) (map[uuid.UUID]int64, error) {
	released := map[uuid.UUID]int64{}
	if p.holdID == nil {
		return released, nil
	}

	h, err := e.holds.GetForUpdate(ctx, tx, *p.holdID)
	if err != nil {
		return nil, fmt.Errorf("captureHold: %w", err)
	}
	if _, ok := locked[h.WalletID]; !ok {
		return nil, fmt.Errorf("captureHold: hold %s is on wallet %s, not part of the posting: %w",
			h.ID, h.WalletID, domain.ErrInvalidRequest)
	}
	if !h.IsActive() {
		logging.FromContext(ctx).Warn("hold no longer active at capture, posting against available balance",
			"hold_id", h.ID, "hold_status", h.Status, "reference", p.txn.Reference)
		return released, nil
	}

	if err := e.holds.Close(ctx, tx, h.ID, domain.HoldStatusCaptured, "captured by "+p.txn.Reference, p.txn.CreatedAt); err != nil {
		return nil, fmt.Errorf("captureHold: %w", err)
	}
	metrics.HoldsReleased.WithLabelValues(string(h.Reason), string(domain.HoldStatusCaptured)).Inc()

	released[h.WalletID] = h.Amount
	return released, nil
}

func (e *Engine) writeTransaction(ctx context.Context, tx *sql.Tx, p *plan) (*domain.Transaction, error) {
	now := p.txn.CreatedAt

	if p.pendingID == nil {
		if err := e.transactions.Create(ctx, tx, p.txn); err != nil {
			return nil, fmt.Errorf("writeTransaction: %w", err)
		}
		if err := e.writeEvent(ctx, tx, p.txn.ID, domain.TransactionEventCompleted, p.actor, now); err != nil {
			return nil, fmt.Errorf("writeTransaction: %w", err)
		}
		return p.txn, nil
	}

	pending, err := e.transactions.GetForUpdate(ctx, tx, *p.pendingID)
	if err != nil {
		return nil, fmt.Errorf("writeTransaction: %w", err)
	}
	if pending.Reference != p.txn.Reference {
		return nil, fmt.Errorf("writeTransaction: pending %s has reference %q: %w",
			pending.ID, pending.Reference, domain.ErrIdempotencyConflict)
	}
	if pending.Status != domain.TransactionStatusPending {
		return nil, fmt.Errorf("writeTransaction: %s is %s: %w", pending.ID, pending.Status, domain.ErrTransactionTerminal)
	}

	if err := e.transactions.Complete(ctx, tx, pending.ID, *p.txn.BalanceBefore, *p.txn.BalanceAfter, now); err != nil {
		return nil, fmt.Errorf("writeTransaction: %w", err)
	}
	if err := e.writeEvent(ctx, tx, pending.ID, domain.TransactionEventCompleted, p.actor, now); err != nil {
		return nil, fmt.Errorf("writeTransaction: %w", err)
	}

	pending.Status = domain.TransactionStatusCompleted
	pending.BalanceBefore = p.txn.BalanceBefore
	pending.BalanceAfter = p.txn.BalanceAfter
	pending.CompletedAt = &now
	pending.UpdatedAt = now
	if pending.HoldID == nil {
		pending.HoldID = p.holdID
	}
	return pending, nil
}

func (e *Engine) writeEvent(ctx context.Context, tx *sql.Tx, transactionID uuid.UUID, eventType domain.TransactionEventType, actor string, now time.Time) error {
	if actor == "" {
		actor = "system"
	}
	event := &domain.TransactionEvent{
		ID:            uuid.New(),
		TransactionID: transactionID,
		EventType:     eventType,
		Actor:         actor,
		CreatedAt:     now,
	}
	if err := e.events.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("writeEvent: %w", err)
	}
	return nil
}

func (e *Engine) replayIfSame(ctx context.Context, p *plan, existing *domain.Transaction) (*Result, error) {
	same := existing.Type == p.txn.Type &&
		existing.WalletID == p.txn.WalletID &&
		sameWallet(existing.CounterpartyWalletID, p.txn.CounterpartyWalletID) &&
		existing.Amount == p.txn.Amount &&
		existing.Fee == p.txn.Fee &&
		existing.Currency == p.txn.Currency
	if !same {
		metrics.LedgerPostings.WithLabelValues(string(p.txn.Type), "conflict").Inc()
		return nil, fmt.Errorf("post: reference %q: %w", p.txn.Reference, domain.ErrIdempotencyConflict)
	}
	return e.replay(ctx, existing)
}

func sameWallet(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// replay rebuilds the result of an already written transaction from its
// ledger entries.
func (e *Engine) replay(ctx context.Context, existing *domain.Transaction) (*Result, error) {
	entries, err := e.entries.ListByTransaction(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	balances := make(map[uuid.UUID]Balance, len(entries))
	for _, en := range entries {
		balances[en.WalletID] = Balance{Before: en.BalanceBefore, After: en.BalanceAfter}
	}

	metrics.LedgerPostings.WithLabelValues(string(existing.Type), "replayed").Inc()
	logging.FromContext(ctx).Info("ledger posting replayed",
		"transaction_id", existing.ID, "reference", existing.Reference, "status", existing.Status)

	return &Result{Transaction: existing, Balances: balances, Replayed: true}, nil
}

// LockWalletsInOrder takes FOR UPDATE locks on the given wallets in ascending
// id order. Duplicate ids are locked once.
func LockWalletsInOrder(ctx context.Context, tx *sql.Tx, wallets interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Wallet, error)
}, ids ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	sorted := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	result := make(map[uuid.UUID]*domain.Wallet, len(sorted))
	for _, id := range sorted {
		w, err := wallets.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("LockWalletsInOrder: %w", err)
		}
		result[id] = w
	}
	return result, nil
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
