package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type DisburseLoanRequest struct {
	WalletID  uuid.UUID
	Amount    int64
	Reference string
	AdminID   uuid.UUID
}

// DisburseLoan credits a user wallet from the lending pool and opens the
// loan in the same posting.
func (s *Service) DisburseLoan(ctx context.Context, req DisburseLoanRequest) (*domain.Loan, *domain.Transaction, error) {
	w, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, nil, fmt.Errorf("DisburseLoan: %w", err)
	}
	if w.WalletType != domain.WalletTypeUser {
		return nil, nil, fmt.Errorf("DisburseLoan: %w", domain.ErrWalletNotFound)
	}
	lending, err := domain.SystemWalletID(domain.WalletTypeLending, w.Currency)
	if err != nil {
		return nil, nil, fmt.Errorf("DisburseLoan: %w", err)
	}

	now := s.now()
	loan := &domain.Loan{
		ID:          uuid.New(),
		UserID:      w.UserID,
		WalletID:    w.ID,
		Principal:   req.Amount,
		Outstanding: req.Amount,
		Currency:    w.Currency,
		Status:      domain.LoanStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeLoanDisbursement,
		Reference:   newReference(req.Reference, "loan"),
		Currency:    w.Currency,
		Source:      lending,
		Dest:        w.ID,
		Amount:      req.Amount,
		Primary:     ledger.SideDest,
		Description: "Loan disbursement",
		Metadata:    domain.NewMetadata(domain.LoanMetadata{LoanID: loan.ID}),
		Actor:       "admin:" + req.AdminID.String(),
	}, func(ctx context.Context, tx *sql.Tx, _ *ledger.Result) error {
		return s.loans.Create(ctx, tx, loan)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("DisburseLoan: %w", err)
	}
	if res.Replayed {
		loan, err = s.loanOf(ctx, res.Transaction)
		if err != nil {
			return nil, nil, fmt.Errorf("DisburseLoan: %w", err)
		}
	}

	logging.FromContext(ctx).Info("loan disbursed",
		"loan_id", loan.ID, "wallet_id", w.ID, "principal", loan.Principal, "transaction_id", res.Transaction.ID)
	return loan, res.Transaction, nil
}

type RepayLoanRequest struct {
	UserID      uuid.UUID
	LoanID      uuid.UUID
	Amount      int64
	Reference   string
	Credentials authz.Credentials
}

// RepayLoan debits the loan's wallet to the lending pool and lowers the
// outstanding balance. A loan paid down to zero becomes repaid. Paying more
// than is outstanding is rejected.
func (s *Service) RepayLoan(ctx context.Context, req RepayLoanRequest) (*domain.Loan, *domain.Transaction, error) {
	loan, err := s.loans.GetByID(ctx, req.LoanID)
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}
	if loan.UserID != req.UserID {
		return nil, nil, fmt.Errorf("RepayLoan: %w", domain.ErrNotFound)
	}
	w, err := s.ownedWallet(ctx, req.UserID, loan.WalletID)
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}

	ref := newReference(req.Reference, "repay")
	if loan.Status != domain.LoanStatusActive {
		if prior, err := s.existingByReference(ctx, ref, domain.TransactionTypeLoanRepayment, w.ID, req.Amount); err == nil && prior != nil {
			return loan, prior, nil
		}
		return nil, nil, fmt.Errorf("RepayLoan: %w", domain.ErrLoanNotActive)
	}
	if req.Amount > loan.Outstanding {
		return nil, nil, fmt.Errorf("RepayLoan: %w",
			domain.NewValidationError("amount", fmt.Sprintf("exceeds outstanding balance %d", loan.Outstanding)))
	}

	fee, err := s.authorizeDebit(ctx, req.UserID, w, domain.TransactionTypeLoanRepayment, req.Amount, req.Credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}
	lending, err := domain.SystemWalletID(domain.WalletTypeLending, w.Currency)
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}

	res, err := s.engine.Apply(ctx, ledger.Entry{
		Type:        domain.TransactionTypeLoanRepayment,
		Reference:   ref,
		Currency:    w.Currency,
		Source:      w.ID,
		Dest:        lending,
		Amount:      req.Amount,
		Fee:         fee,
		Primary:     ledger.SideSource,
		Description: "Loan repayment",
		Metadata:    domain.NewMetadata(domain.LoanMetadata{LoanID: loan.ID}),
		Actor:       userActor(req.UserID),
	}, func(ctx context.Context, tx *sql.Tx, _ *ledger.Result) error {
		locked, err := s.loans.GetForUpdate(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.LoanStatusActive {
			return domain.ErrLoanNotActive
		}
		if req.Amount > locked.Outstanding {
			return domain.NewValidationError("amount", fmt.Sprintf("exceeds outstanding balance %d", locked.Outstanding))
		}
		outstanding := locked.Outstanding - req.Amount
		status := domain.LoanStatusActive
		if outstanding == 0 {
			status = domain.LoanStatusRepaid
		}
		return s.loans.UpdateOutstanding(ctx, tx, loan.ID, outstanding, status)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}

	updated, err := s.loans.GetByID(ctx, loan.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("RepayLoan: %w", err)
	}

	logging.FromContext(ctx).Info("loan repayment posted",
		"loan_id", loan.ID, "amount", req.Amount, "outstanding", updated.Outstanding, "status", updated.Status)
	return updated, res.Transaction, nil
}

func (s *Service) ListLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	loans, err := s.loans.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListLoans: %w", err)
	}
	return loans, nil
}

func (s *Service) GetLoan(ctx context.Context, userID, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("GetLoan: %w", err)
	}
	if loan.UserID != userID {
		return nil, fmt.Errorf("GetLoan: %w", domain.ErrNotFound)
	}
	return loan, nil
}

func (s *Service) loanOf(ctx context.Context, txn *domain.Transaction) (*domain.Loan, error) {
	md, ok := txn.Metadata.Variant.(domain.LoanMetadata)
	if !ok {
		return nil, fmt.Errorf("loanOf: %s carries no loan: %w", txn.ID, domain.ErrNotFound)
	}
	return s.loans.GetByID(ctx, md.LoanID)
}
