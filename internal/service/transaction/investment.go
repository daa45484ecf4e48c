package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/pricing"
)

type InvestmentRequest struct {
	UserID       uuid.UUID
	WalletID     uuid.UUID
	Amount       int64
	DurationDays int
	Reference    string
	Credentials  authz.Credentials
}

// CreateInvestment moves the principal into the investment pool at the rate
// for the chosen duration.
func (s *Service) CreateInvestment(ctx context.Context, req InvestmentRequest) (*domain.Investment, *domain.Transaction, error) {
	rate, err := pricing.InvestmentRateBPS(req.DurationDays)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
	}
	w, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
	}
	fee, err := s.authorizeDebit(ctx, req.UserID, w, domain.TransactionTypeInvestment, req.Amount, req.Credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
	}
	pool, err := domain.SystemWalletID(domain.WalletTypeInvestment, w.Currency)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
	}

	now := s.now()
	inv := &domain.Investment{
		ID:           uuid.New(),
		UserID:       req.UserID,
		WalletID:     w.ID,
		Principal:    req.Amount,
		Currency:     w.Currency,
		RateBPS:      rate,
		DurationDays: req.DurationDays,
		Status:       domain.InvestmentStatusActive,
		StartedAt:    now,
		MaturesAt:    now.AddDate(0, 0, req.DurationDays),
	}

	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeInvestment,
		Reference:   newReference(req.Reference, "inv"),
		Currency:    w.Currency,
		Source:      w.ID,
		Dest:        pool,
		Amount:      req.Amount,
		Fee:         fee,
		Primary:     ledger.SideSource,
		Description: fmt.Sprintf("Investment for %d days", req.DurationDays),
		Metadata:    domain.NewMetadata(domain.InvestmentMetadata{InvestmentID: inv.ID, Principal: req.Amount}),
		Actor:       userActor(req.UserID),
	}, func(ctx context.Context, tx *sql.Tx, _ *ledger.Result) error {
		return s.investments.Create(ctx, tx, inv)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
	}
	if res.Replayed {
		md, ok := res.Transaction.Metadata.Variant.(domain.InvestmentMetadata)
		if !ok {
			return nil, nil, fmt.Errorf("CreateInvestment: %s carries no investment: %w", res.Transaction.ID, domain.ErrNotFound)
		}
		inv, err = s.investments.GetByID(ctx, md.InvestmentID)
		if err != nil {
			return nil, nil, fmt.Errorf("CreateInvestment: %w", err)
		}
	}

	logging.FromContext(ctx).Info("investment created",
		"investment_id", inv.ID, "principal", inv.Principal, "rate_bps", inv.RateBPS, "matures_at", inv.MaturesAt)
	return inv, res.Transaction, nil
}

func liquidationReference(investmentID uuid.UUID) string {
	return "liquidate:" + investmentID.String()
}

type LiquidateRequest struct {
	UserID       uuid.UUID
	InvestmentID uuid.UUID
	Credentials  authz.Credentials
}

// LiquidateInvestment pays principal plus accrued interest back to the
// wallet. Before maturity a share of the interest is forfeited. Liquidating
// twice returns the first liquidation.
func (s *Service) LiquidateInvestment(ctx context.Context, req LiquidateRequest) (*domain.Investment, *domain.Transaction, error) {
	inv, err := s.GetInvestment(ctx, req.UserID, req.InvestmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
	}

	ref := liquidationReference(inv.ID)
	if inv.Status != domain.InvestmentStatusActive {
		prior, err := s.transactions.GetByReference(ctx, ref)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, nil, fmt.Errorf("LiquidateInvestment: %w", domain.ErrInvestmentNotActive)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
		}
		return inv, prior, nil
	}

	if err := s.gate.Authorize(ctx, inv.WalletID, req.Credentials); err != nil {
		return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
	}
	pool, err := domain.SystemWalletID(domain.WalletTypeInvestment, inv.Currency)
	if err != nil {
		return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
	}

	now := s.now()
	l := s.pricer.Liquidate(inv, now)

	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeInvestmentReturn,
		Reference:   ref,
		Currency:    inv.Currency,
		Source:      pool,
		Dest:        inv.WalletID,
		Amount:      l.Payout,
		Primary:     ledger.SideDest,
		Description: "Investment liquidation",
		Metadata: domain.NewMetadata(domain.InvestmentMetadata{
			InvestmentID: inv.ID,
			Principal:    l.Principal,
			Accrued:      l.Accrued,
			Penalty:      l.Penalty,
		}),
		Actor: userActor(req.UserID),
	}, func(ctx context.Context, tx *sql.Tx, _ *ledger.Result) error {
		locked, err := s.investments.GetForUpdate(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.InvestmentStatusActive {
			return domain.ErrInvestmentNotActive
		}
		return s.investments.MarkLiquidated(ctx, tx, inv.ID, l.Payout, l.Penalty, now)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
	}

	updated, err := s.investments.GetByID(ctx, inv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("LiquidateInvestment: %w", err)
	}

	logging.FromContext(ctx).Info("investment liquidated",
		"investment_id", inv.ID,
		"payout", l.Payout,
		"accrued", l.Accrued,
		"penalty", l.Penalty,
		"matured", l.Matured,
	)
	return updated, res.Transaction, nil
}

func (s *Service) GetInvestment(ctx context.Context, userID, investmentID uuid.UUID) (*domain.Investment, error) {
	inv, err := s.investments.GetByID(ctx, investmentID)
	if err != nil {
		return nil, fmt.Errorf("GetInvestment: %w", err)
	}
	if inv.UserID != userID {
		return nil, fmt.Errorf("GetInvestment: %w", domain.ErrNotFound)
	}
	return inv, nil
}

func (s *Service) ListInvestments(ctx context.Context, userID uuid.UUID) ([]domain.Investment, error) {
	invs, err := s.investments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListInvestments: %w", err)
	}
	return invs, nil
}
