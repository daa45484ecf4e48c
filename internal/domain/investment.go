package domain

import (
	"time"

	"github.com/google/uuid"
)

type InvestmentStatus string

const (
	InvestmentStatusActive     InvestmentStatus = "active"
	InvestmentStatusLiquidated InvestmentStatus = "liquidated"
)

type Investment struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	WalletID     uuid.UUID
	Principal    int64
	Currency     Currency
	RateBPS      int64
	DurationDays int
	Status       InvestmentStatus
	StartedAt    time.Time
	MaturesAt    time.Time
	LiquidatedAt *time.Time
	Returned     *int64
	Penalty      *int64
}

func (i *Investment) Matured(now time.Time) bool {
	return !now.Before(i.MaturesAt)
}
