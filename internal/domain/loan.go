package domain

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusRepaid LoanStatus = "repaid"
)

type Loan struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	WalletID    uuid.UUID
	Principal   int64
	Outstanding int64
	Currency    Currency
	Status      LoanStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
