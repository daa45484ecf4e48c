package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

type lendingService interface {
	DisburseLoan(ctx context.Context, req transaction.DisburseLoanRequest) (*domain.Loan, *domain.Transaction, error)
	RepayLoan(ctx context.Context, req transaction.RepayLoanRequest) (*domain.Loan, *domain.Transaction, error)
	ListLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
	GetLoan(ctx context.Context, userID, loanID uuid.UUID) (*domain.Loan, error)
	CreateInvestment(ctx context.Context, req transaction.InvestmentRequest) (*domain.Investment, *domain.Transaction, error)
	LiquidateInvestment(ctx context.Context, req transaction.LiquidateRequest) (*domain.Investment, *domain.Transaction, error)
	GetInvestment(ctx context.Context, userID, investmentID uuid.UUID) (*domain.Investment, error)
	ListInvestments(ctx context.Context, userID uuid.UUID) ([]domain.Investment, error)
}

// LendingHandler serves loans and fixed-term investments.
type LendingHandler struct {
	svc lendingService
}

func NewLendingHandler(svc lendingService) *LendingHandler {
	return &LendingHandler{svc: svc}
}

type disburseLoanRequest struct {
	WalletID  string `json:"wallet_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=100"`
}

type repayLoanRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=100"`
	credentialsRequest
}

type createInvestmentRequest struct {
	WalletID     string `json:"wallet_id" validate:"required,uuid"`
	Amount       int64  `json:"amount" validate:"gt=0"`
	DurationDays int    `json:"duration_days" validate:"required,gt=0"`
	Reference    string `json:"reference" validate:"max=100"`
	credentialsRequest
}

type loanMovementResponse struct {
	Loan        loanDTO        `json:"loan"`
	Transaction transactionDTO `json:"transaction"`
}

type investmentMovementResponse struct {
	Investment  investmentDTO  `json:"investment"`
	Transaction transactionDTO `json:"transaction"`
}

// DisburseLoan is admin only.
func (h *LendingHandler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	adminID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req disburseLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, txn, err := h.svc.DisburseLoan(r.Context(), transaction.DisburseLoanRequest{
		WalletID:  uuid.MustParse(req.WalletID),
		Amount:    req.Amount,
		Reference: reference(r, req.Reference),
		AdminID:   adminID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("loan disbursement failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, loanMovementResponse{Loan: toLoanDTO(loan), Transaction: toTransactionDTO(txn)})
}

func (h *LendingHandler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	loanID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	var req repayLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, txn, err := h.svc.RepayLoan(r.Context(), transaction.RepayLoanRequest{
		UserID:      userID,
		LoanID:      loanID,
		Amount:      req.Amount,
		Reference:   reference(r, req.Reference),
		Credentials: req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("loan repayment failed", "loan_id", loanID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, loanMovementResponse{Loan: toLoanDTO(loan), Transaction: toTransactionDTO(txn)})
}

func (h *LendingHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	loans, err := h.svc.ListLoans(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]loanDTO, len(loans))
	for i := range loans {
		dtos[i] = toLoanDTO(&loans[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *LendingHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	loanID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	loan, err := h.svc.GetLoan(r.Context(), userID, loanID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toLoanDTO(loan))
}

func (h *LendingHandler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req createInvestmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, txn, err := h.svc.CreateInvestment(r.Context(), transaction.InvestmentRequest{
		UserID:       userID,
		WalletID:     uuid.MustParse(req.WalletID),
		Amount:       req.Amount,
		DurationDays: req.DurationDays,
		Reference:    reference(r, req.Reference),
		Credentials:  req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("investment failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, investmentMovementResponse{Investment: toInvestmentDTO(inv), Transaction: toTransactionDTO(txn)})
}

func (h *LendingHandler) LiquidateInvestment(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	invID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	var creds credentialsRequest
	if !decodeJSON(w, r, &creds) {
		return
	}

	inv, txn, err := h.svc.LiquidateInvestment(r.Context(), transaction.LiquidateRequest{
		UserID:       userID,
		InvestmentID: invID,
		Credentials:  creds.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("investment liquidation failed", "investment_id", invID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, investmentMovementResponse{Investment: toInvestmentDTO(inv), Transaction: toTransactionDTO(txn)})
}

func (h *LendingHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	invs, err := h.svc.ListInvestments(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]investmentDTO, len(invs))
	for i := range invs {
		dtos[i] = toInvestmentDTO(&invs[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *LendingHandler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	invID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	inv, err := h.svc.GetInvestment(r.Context(), userID, invID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toInvestmentDTO(inv))
}
