package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Side names which wallet of an Entry the transaction row is written for.
type Side int

const (
	// SideSource: the debited wallet pays amount plus fee.
	SideSource Side = iota
	// SideDest: the credited wallet receives amount minus fee.
	SideDest
)

// Entry describes one balanced posting: Amount moves from Source to Dest and
// Fee goes to the currency's fee wallet, paid by the Primary side.
type Entry struct {
	Type        domain.TransactionType
	Reference   string
	Currency    domain.Currency
	Source      uuid.UUID
	Dest        uuid.UUID
	Amount      int64
	Fee         int64
	Primary     Side
	Description string
	Metadata    domain.Metadata
	ProviderRef *string
	Actor       string

	// HoldID is an active hold on Source that this posting captures.
	HoldID *uuid.UUID
	// PendingID completes an existing pending transaction instead of
	// inserting a new row. Its reference must equal Reference.
	PendingID *uuid.UUID
	// Compensating lets a credit land on a frozen wallet.
	Compensating bool
}

type leg struct {
	walletID uuid.UUID
	delta    int64
}

func (e Entry) validate() error {
	if e.Reference == "" {
		return domain.NewValidationError("reference", "is required")
	}
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if e.Fee < 0 {
		return domain.NewValidationError("fee", "must not be negative")
	}
	if e.Primary == SideDest && e.Fee >= e.Amount {
		return domain.NewValidationError("fee", "must be less than the credited amount")
	}
	if e.Source == e.Dest {
		return domain.ErrSelfTransfer
	}
	if !e.Currency.IsValid() {
		return domain.ErrInvalidCurrency
	}
	if !e.Type.IsValid() {
		return domain.NewValidationError("type", "unknown transaction type")
	}
	return e.Metadata.Validate(e.Type)
}

func (e Entry) legs() ([]leg, error) {
	legs := make([]leg, 0, 3)
	switch e.Primary {
	case SideSource:
		legs = append(legs, leg{e.Source, -(e.Amount + e.Fee)}, leg{e.Dest, e.Amount})
	case SideDest:
		legs = append(legs, leg{e.Source, -e.Amount}, leg{e.Dest, e.Amount - e.Fee})
	default:
		return nil, fmt.Errorf("unknown primary side %d", e.Primary)
	}

	if e.Fee > 0 {
		feeWallet, err := domain.SystemWalletID(domain.WalletTypeFee, e.Currency)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg{feeWallet, e.Fee})
	}
	return legs, nil
}

func (e Entry) primaryWallet() (primary uuid.UUID, counterparty uuid.UUID) {
	if e.Primary == SideDest {
		return e.Dest, e.Source
	}
	return e.Source, e.Dest
}

// mergeLegs nets legs per wallet, keeping first-seen order and dropping
// wallets whose net movement is zero.
func mergeLegs(legs []leg) []leg {
	idx := make(map[uuid.UUID]int, len(legs))
	out := make([]leg, 0, len(legs))
	for _, l := range legs {
		if i, ok := idx[l.walletID]; ok {
			out[i].delta += l.delta
			continue
		}
		idx[l.walletID] = len(out)
		out = append(out, l)
	}

	kept := out[:0]
	for _, l := range out {
		if l.delta != 0 {
			kept = append(kept, l)
		}
	}
	return kept
}

func sumLegs(legs []leg) int64 {
	var s int64
	for _, l := range legs {
		s += l.delta
	}
	return s
}
