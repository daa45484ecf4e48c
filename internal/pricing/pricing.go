// Package pricing computes fees, investment interest and early-liquidation
// penalties in minor units. Intermediate math uses decimals and rounds half
// up to the nearest minor unit once, at the end.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const daysPerYear = 365

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	yearDays   = decimal.NewFromInt(daysPerYear)
)

// FeeSchedule charges Flat plus BPS basis points of the amount.
type FeeSchedule struct {
	Flat int64
	BPS  int64
}

type Pricer struct {
	fees       map[domain.TransactionType]FeeSchedule
	cap        int64
	penaltyPct decimal.Decimal
}

func NewPricer(fees config.FeeConfig, penaltyPct float64) *Pricer {
	return &Pricer{
		fees: map[domain.TransactionType]FeeSchedule{
			domain.TransactionTypeTransfer:    {Flat: fees.TransferFlat, BPS: fees.TransferBPS},
			domain.TransactionTypeWithdrawal:  {Flat: fees.WithdrawalFlat, BPS: fees.WithdrawalBPS},
			domain.TransactionTypeBillPayment: {Flat: fees.BillFlat},
		},
		cap:        fees.Cap,
		penaltyPct: decimal.NewFromFloat(penaltyPct),
	}
}

// Fee returns the fee charged on top of amount for a transaction type.
// Types without a schedule are free. A positive cap bounds the fee.
func (p *Pricer) Fee(t domain.TransactionType, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Fee: %w", domain.ErrInvalidAmount)
	}

	s, ok := p.fees[t]
	if !ok {
		return 0, nil
	}

	variable := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(s.BPS)).
		Div(bpsDivisor).
		Round(0).
		IntPart()

	fee := s.Flat + variable
	if p.cap > 0 && fee > p.cap {
		fee = p.cap
	}
	return fee, nil
}

// Interest is simple interest on principal at rateBPS a year for days,
// on a 365-day year.
func Interest(principal, rateBPS int64, days int) int64 {
	if principal <= 0 || rateBPS <= 0 || days <= 0 {
		return 0
	}
	return decimal.NewFromInt(principal).
		Mul(decimal.NewFromInt(rateBPS)).
		Div(bpsDivisor).
		Mul(decimal.NewFromInt(int64(days))).
		Div(yearDays).
		Round(0).
		IntPart()
}

// InvestmentTerm bounds accepted investment durations and the rate paid for
// durations of at least MinDays.
type InvestmentTerm struct {
	MinDays int
	RateBPS int64
}

var investmentTerms = []InvestmentTerm{
	{MinDays: 365, RateBPS: 1500},
	{MinDays: 180, RateBPS: 1200},
	{MinDays: 90, RateBPS: 1000},
	{MinDays: 30, RateBPS: 800},
}

const maxInvestmentDays = 730

// InvestmentRateBPS returns the annual rate for a fixed-term investment of
// the given duration.
func InvestmentRateBPS(days int) (int64, error) {
	if days > maxInvestmentDays {
		return 0, domain.NewValidationError("duration_days", fmt.Sprintf("must be at most %d", maxInvestmentDays))
	}
	for _, term := range investmentTerms {
		if days >= term.MinDays {
			return term.RateBPS, nil
		}
	}
	return 0, domain.NewValidationError("duration_days", fmt.Sprintf("must be at least %d", investmentTerms[len(investmentTerms)-1].MinDays))
}

type Liquidation struct {
	Principal int64
	Accrued   int64
	Penalty   int64
	Payout    int64
	Matured   bool
	DaysHeld  int
}

// Liquidate values an investment at now. Interest accrues per whole day held,
// up to the investment's duration. Liquidating before maturity forfeits the
// penalty percentage of the accrued interest; the principal is never touched.
func (p *Pricer) Liquidate(inv *domain.Investment, now time.Time) Liquidation {
	days := int(now.Sub(inv.StartedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	if days > inv.DurationDays {
		days = inv.DurationDays
	}

	l := Liquidation{
		Principal: inv.Principal,
		Accrued:   Interest(inv.Principal, inv.RateBPS, days),
		Matured:   inv.Matured(now),
		DaysHeld:  days,
	}
	if !l.Matured {
		l.Penalty = decimal.NewFromInt(l.Accrued).Mul(p.penaltyPct).Round(0).IntPart()
	}
	l.Payout = l.Principal + l.Accrued - l.Penalty
	return l
}
