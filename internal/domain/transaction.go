package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionTypeTransfer         TransactionType = "transfer"
	TransactionTypeDeposit          TransactionType = "deposit"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeCardFunding      TransactionType = "card_funding"
	TransactionTypeBillPayment      TransactionType = "bill_payment"
	TransactionTypeLoanDisbursement TransactionType = "loan_disbursement"
	TransactionTypeLoanRepayment    TransactionType = "loan_repayment"
	TransactionTypeInvestment       TransactionType = "investment"
	TransactionTypeInvestmentReturn TransactionType = "investment_return"
	TransactionTypeReversal         TransactionType = "reversal"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeTransfer, TransactionTypeDeposit, TransactionTypeWithdrawal,
		TransactionTypeCardFunding, TransactionTypeBillPayment, TransactionTypeLoanDisbursement,
		TransactionTypeLoanRepayment, TransactionTypeInvestment, TransactionTypeInvestmentReturn,
		TransactionTypeReversal:
		return true
	default:
		return false
	}
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusPending
}

// Direction is how the transaction moves money on its primary wallet.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

func (d Direction) IsValid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

type Transaction struct {
	ID                   uuid.UUID
	WalletID             uuid.UUID
	CounterpartyWalletID *uuid.UUID
	Type                 TransactionType
	Direction            Direction
	Amount               int64
	Fee                  int64
	Currency             Currency
	Status               TransactionStatus
	Reference            string
	ProviderRef          *string
	Description          string
	Metadata             Metadata
	BalanceBefore        *int64
	BalanceAfter         *int64
	FailureReason        *string
	ReversalOf           *uuid.UUID
	HoldID               *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

// Total is what the primary wallet pays (debit) or receives (credit).
func (t *Transaction) Total() int64 {
	if t.Direction == DirectionDebit {
		return t.Amount + t.Fee
	}
	return t.Amount - t.Fee
}

type TransactionFilter struct {
	UserID   uuid.UUID
	WalletID *uuid.UUID
	Type     *TransactionType
	Status   *TransactionStatus
	Limit    int
	Offset   int
}

type TransactionStatistics struct {
	TotalTransactions int
	TotalAmount       int64
	TotalFees         int64
	ByType            map[TransactionType]int
	ByStatus          map[TransactionStatus]int
}
