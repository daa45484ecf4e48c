package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type callbackOutcome int

const (
	callbackSucceeded callbackOutcome = iota
	callbackFailed
	callbackReversed
)

// ProcessProviderEvent applies a provider callback. Callbacks are matched
// to transactions by provider reference, falling back to our reference.
// A callback that no longer fits the transaction's state is recorded and
// dropped, except that a failure or reversal of a completed transaction is
// compensated with a reversal and a payout completed after its withdrawal
// failed here is booked late.
func (s *Service) ProcessProviderEvent(ctx context.Context, ev domain.ProviderEvent) error {
	var (
		txType  domain.TransactionType
		outcome callbackOutcome
	)
	switch ev.EventType {
	case domain.WebhookEventCardFundingSettled:
		if _, err := s.SettleCardFunding(ctx, ev.Reference, ev.ProviderRef); err != nil {
			return fmt.Errorf("ProcessProviderEvent: %w", err)
		}
		return nil
	case domain.WebhookEventCardFundingDeclined:
		if err := s.declineCardFunding(ctx, ev.Reference, ev.Reason); err != nil {
			return fmt.Errorf("ProcessProviderEvent: %w", err)
		}
		return nil
	case domain.WebhookEventDepositCompleted:
		txType, outcome = domain.TransactionTypeDeposit, callbackSucceeded
	case domain.WebhookEventDepositFailed:
		txType, outcome = domain.TransactionTypeDeposit, callbackFailed
	case domain.WebhookEventWithdrawalCompleted:
		txType, outcome = domain.TransactionTypeWithdrawal, callbackSucceeded
	case domain.WebhookEventWithdrawalFailed:
		txType, outcome = domain.TransactionTypeWithdrawal, callbackFailed
	case domain.WebhookEventWithdrawalReversed:
		txType, outcome = domain.TransactionTypeWithdrawal, callbackReversed
	default:
		return fmt.Errorf("ProcessProviderEvent: %w", domain.NewValidationError("event_type", "unsupported"))
	}

	txn, err := s.callbackTransaction(ctx, ev)
	if err != nil {
		return fmt.Errorf("ProcessProviderEvent: %w", err)
	}
	if txn.Type != txType {
		return fmt.Errorf("ProcessProviderEvent: %s callback for %s transaction %s: %w",
			ev.EventType, txn.Type, txn.ID, domain.ErrInvalidRequest)
	}

	err = s.applyCallback(ctx, txn, ev, outcome)
	if errors.Is(err, domain.ErrTransactionTerminal) {
		// Finished concurrently, typically a cancellation racing the
		// callback. Apply the callback to the state that won.
		current, getErr := s.transactions.GetByID(ctx, txn.ID)
		if getErr != nil {
			return fmt.Errorf("ProcessProviderEvent: %w", getErr)
		}
		err = s.applyCallback(ctx, current, ev, outcome)
	}
	if err != nil {
		return fmt.Errorf("ProcessProviderEvent: %w", err)
	}

	logging.FromContext(ctx).Info("provider callback applied",
		"event_id", ev.EventID, "event_type", ev.EventType, "transaction_id", txn.ID)
	return nil
}

// applyCallback moves txn according to the callback outcome. A failed
// withdrawal the provider still paid out is booked late rather than dropped.
func (s *Service) applyCallback(ctx context.Context, txn *domain.Transaction, ev domain.ProviderEvent, outcome callbackOutcome) error {
	lateWithdrawal := txn.Type == domain.TransactionTypeWithdrawal && txn.Status == domain.TransactionStatusFailed

	switch {
	case txn.Status == domain.TransactionStatusPending && outcome == callbackSucceeded:
		_, err := s.completePending(ctx, txn, providerActor)
		return err
	case txn.Status == domain.TransactionStatusPending:
		return s.failPending(ctx, txn, callbackReason(ev), providerActor)
	case txn.Status == domain.TransactionStatusCompleted && outcome == callbackSucceeded:
		return nil
	case txn.Status == domain.TransactionStatusCompleted:
		_, err := s.engine.Reverse(ctx, txn.ID, ledger.ReverseOptions{
			Reason: callbackReason(ev),
			Actor:  providerActor,
		}, nil)
		return err
	case lateWithdrawal && outcome == callbackSucceeded:
		return s.settleLateWithdrawal(ctx, txn, ev)
	case lateWithdrawal && outcome == callbackReversed:
		return s.reverseLateWithdrawal(ctx, txn, ev)
	default:
		return s.ignoreCallback(ctx, txn, ev)
	}
}

func (s *Service) callbackTransaction(ctx context.Context, ev domain.ProviderEvent) (*domain.Transaction, error) {
	if ev.ProviderRef != "" {
		txn, err := s.transactions.GetByProviderRef(ctx, ev.ProviderRef)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) || ev.Reference == "" {
			return txn, err
		}
	}
	if ev.Reference == "" {
		return nil, domain.NewValidationError("reference", "provider_ref or reference is required")
	}
	return s.transactions.GetByReference(ctx, ev.Reference)
}

// ignoreCallback records a callback that arrived after the transaction
// reached a state it cannot move from.
func (s *Service) ignoreCallback(ctx context.Context, txn *domain.Transaction, ev domain.ProviderEvent) error {
	logging.FromContext(ctx).Warn("provider callback ignored",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"transaction_id", txn.ID,
		"status", txn.Status,
	)
	payload := map[string]string{"event_id": ev.EventID, "event_type": string(ev.EventType)}
	if err := s.recordEvent(ctx, txn.ID, domain.TransactionEventIgnored, providerActor, payload); err != nil {
		return fmt.Errorf("ignoreCallback: %w", err)
	}
	return nil
}

func callbackReason(ev domain.ProviderEvent) string {
	if ev.Reason != "" {
		return ev.Reason
	}
	return string(ev.EventType)
}
