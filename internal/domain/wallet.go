package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyGHS Currency = "GHS"
	CurrencyKES Currency = "KES"
)

var SupportedCurrencies = []Currency{
	CurrencyNGN, CurrencyUSD, CurrencyGBP, CurrencyEUR, CurrencyGHS, CurrencyKES,
}

func (c Currency) IsValid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

type WalletType string

const (
	WalletTypeUser       WalletType = "user"
	WalletTypeFee        WalletType = "fee"
	WalletTypeSettlement WalletType = "settlement"
	WalletTypeLending    WalletType = "lending"
	WalletTypeInvestment WalletType = "investment"
)

// AllowsNegative reports whether the wallet is a contra account that mirrors
// money held outside the ledger (provider float, loan book, investment book).
func (t WalletType) AllowsNegative() bool {
	switch t {
	case WalletTypeSettlement, WalletTypeLending, WalletTypeInvestment:
		return true
	default:
		return false
	}
}

type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen"
	WalletStatusClosed WalletStatus = "closed"
)

func (s WalletStatus) IsValid() bool {
	switch s {
	case WalletStatusActive, WalletStatusFrozen, WalletStatusClosed:
		return true
	default:
		return false
	}
}

type Wallet struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Currency         Currency
	WalletType       WalletType
	Name             string
	Balance          int64
	HeldBalance      int64
	Version          int64
	Status           WalletStatus
	IsDefault        bool
	PinHash          *string
	BiometricEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableBalance is the spendable part of the balance: Balance minus the sum
// of active holds.
func (w *Wallet) AvailableBalance() int64 {
	return w.Balance - w.HeldBalance
}

func (w *Wallet) HasPin() bool {
	return w.PinHash != nil && *w.PinHash != ""
}

type WalletSummary struct {
	Currency         Currency
	WalletCount      int
	TotalBalance     int64
	AvailableBalance int64
	HeldBalance      int64
}
