package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry is one leg of a posting against a single wallet. The legs of a
// transaction always sum to zero.
type LedgerEntry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	WalletID      uuid.UUID
	EntryType     EntryType
	Amount        int64
	Currency      Currency
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

// Signed returns the entry amount with debits negative.
func (e *LedgerEntry) Signed() int64 {
	if e.EntryType == EntryTypeDebit {
		return -e.Amount
	}
	return e.Amount
}
