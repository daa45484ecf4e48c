package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

type transactionService interface {
	Transfer(ctx context.Context, req transaction.TransferRequest) (*transaction.TransferResult, error)
	InitiateDeposit(ctx context.Context, req transaction.DepositRequest) (*domain.Transaction, error)
	VerifyDeposit(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error)
	InitiateWithdrawal(ctx context.Context, req transaction.WithdrawalRequest) (*domain.Transaction, error)
	CancelWithdrawal(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error)
	PayBill(ctx context.Context, req transaction.BillRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactionEvents(ctx context.Context, userID, transactionID uuid.UUID) ([]domain.TransactionEvent, error)
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error)
	Statistics(ctx context.Context, f domain.TransactionFilter) (*domain.TransactionStatistics, error)
}

type TransactionHandler struct {
	transactions transactionService
}

func NewTransactionHandler(transactions transactionService) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

type transferRequest struct {
	FromWalletID string `json:"from_wallet_id" validate:"required,uuid"`
	ToWalletID   string `json:"to_wallet_id" validate:"required,uuid"`
	Amount       int64  `json:"amount" validate:"gt=0"`
	Reference    string `json:"reference" validate:"max=100"`
	Narration    string `json:"narration" validate:"max=140"`
	credentialsRequest
}

type depositRequest struct {
	WalletID  string `json:"wallet_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=100"`
	Channel   string `json:"channel" validate:"omitempty,oneof=card bank_transfer ussd"`
}

type verifyDepositRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
}

type withdrawalRequest struct {
	WalletID      string `json:"wallet_id" validate:"required,uuid"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Reference     string `json:"reference" validate:"max=100"`
	BankCode      string `json:"bank_code" validate:"required,numeric,min=3,max=6"`
	AccountNumber string `json:"account_number" validate:"required,numeric,len=10"`
	AccountName   string `json:"account_name" validate:"max=120"`
	credentialsRequest
}

type billRequest struct {
	WalletID    string `json:"wallet_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Reference   string `json:"reference" validate:"max=100"`
	Biller      string `json:"biller" validate:"required,max=60"`
	Category    string `json:"category" validate:"omitempty,oneof=airtime data electricity cable_tv internet"`
	CustomerRef string `json:"customer_ref" validate:"required,max=60"`
	credentialsRequest
}

type balanceChangeDTO struct {
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}

type transferResponse struct {
	Transaction transactionDTO   `json:"transaction"`
	From        balanceChangeDTO `json:"from"`
	To          balanceChangeDTO `json:"to"`
}

type statisticsDTO struct {
	TotalTransactions int            `json:"total_transactions"`
	TotalAmount       int64          `json:"total_amount"`
	TotalFees         int64          `json:"total_fees"`
	ByType            map[string]int `json:"by_type"`
	ByStatus          map[string]int `json:"by_status"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.transactions.Transfer(r.Context(), transaction.TransferRequest{
		UserID:       userID,
		FromWalletID: uuid.MustParse(req.FromWalletID),
		ToWalletID:   uuid.MustParse(req.ToWalletID),
		Amount:       req.Amount,
		Reference:    reference(r, req.Reference),
		Narration:    req.Narration,
		Credentials:  req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("transfer failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%s", res.Transaction.ID))
	RespondMessage(w, status, transferResponse{
		Transaction: toTransactionDTO(res.Transaction),
		From:        balanceChangeDTO{BalanceBefore: res.From.Before, BalanceAfter: res.From.After},
		To:          balanceChangeDTO{BalanceBefore: res.To.Before, BalanceAfter: res.To.After},
	}, "Transfer successful")
}

func (h *TransactionHandler) InitiateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.transactions.InitiateDeposit(r.Context(), transaction.DepositRequest{
		UserID:    userID,
		WalletID:  uuid.MustParse(req.WalletID),
		Amount:    req.Amount,
		Reference: reference(r, req.Reference),
		Channel:   req.Channel,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("deposit initiation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondMessage(w, http.StatusAccepted, toTransactionDTO(txn), "Complete the payment to fund your wallet")
}

func (h *TransactionHandler) VerifyDeposit(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req verifyDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.transactions.VerifyDeposit(r.Context(), userID, uuid.MustParse(req.TransactionID))
	if err != nil {
		logging.FromContext(r.Context()).Warn("deposit verification failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTO(txn))
}

func (h *TransactionHandler) InitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req withdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.transactions.InitiateWithdrawal(r.Context(), transaction.WithdrawalRequest{
		UserID:        userID,
		WalletID:      uuid.MustParse(req.WalletID),
		Amount:        req.Amount,
		Reference:     reference(r, req.Reference),
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Credentials:   req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("withdrawal failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%s", txn.ID))
	RespondMessage(w, http.StatusAccepted, toTransactionDTO(txn), "Withdrawal is processing")
}

func (h *TransactionHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	txnID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrTransactionNotFound, nil)
		return
	}

	txn, err := h.transactions.CancelWithdrawal(r.Context(), userID, txnID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, toTransactionDTO(txn), "Withdrawal cancelled")
}

func (h *TransactionHandler) PayBill(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req billRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.transactions.PayBill(r.Context(), transaction.BillRequest{
		UserID:      userID,
		WalletID:    uuid.MustParse(req.WalletID),
		Amount:      req.Amount,
		Reference:   reference(r, req.Reference),
		Biller:      req.Biller,
		Category:    req.Category,
		CustomerRef: req.CustomerRef,
		Credentials: req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("bill payment failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toTransactionDTO(txn))
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	txnID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrTransactionNotFound, nil)
		return
	}

	txn, err := h.transactions.GetTransaction(r.Context(), userID, txnID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTO(txn))
}

func (h *TransactionHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	txnID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrTransactionNotFound, nil)
		return
	}

	events, err := h.transactions.ListTransactionEvents(r.Context(), userID, txnID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]transactionEventDTO, len(events))
	for i, e := range events {
		dtos[i] = transactionEventDTO{
			ID:        e.ID,
			EventType: string(e.EventType),
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt,
		}
		if len(e.Payload) > 0 {
			dtos[i].Payload = json.RawMessage(e.Payload)
		}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	f, page, ok := transactionFilter(w, r)
	if !ok {
		return
	}

	txns, total, err := h.transactions.ListTransactions(r.Context(), f)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondPage(w, toTransactionDTOs(txns), page, total)
}

func (h *TransactionHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	f, _, ok := transactionFilter(w, r)
	if !ok {
		return
	}

	stats, err := h.transactions.Statistics(r.Context(), f)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dto := statisticsDTO{
		TotalTransactions: stats.TotalTransactions,
		TotalAmount:       stats.TotalAmount,
		TotalFees:         stats.TotalFees,
		ByType:            make(map[string]int, len(stats.ByType)),
		ByStatus:          make(map[string]int, len(stats.ByStatus)),
	}
	for k, v := range stats.ByType {
		dto.ByType[string(k)] = v
	}
	for k, v := range stats.ByStatus {
		dto.ByStatus[string(k)] = v
	}
	RespondSuccess(w, http.StatusOK, dto)
}

// transactionFilter reads wallet_id, type, status and paging from the query.
func transactionFilter(w http.ResponseWriter, r *http.Request) (domain.TransactionFilter, PageParams, bool) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return domain.TransactionFilter{}, PageParams{}, false
	}
	page, fields := pageParams(r)
	f := domain.TransactionFilter{UserID: userID, Limit: page.Limit, Offset: page.Offset}

	q := r.URL.Query()
	if s := q.Get("wallet_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fields = append(fields, domain.FieldError{Field: "wallet_id", Message: "must be a valid UUID"})
		} else {
			f.WalletID = &id
		}
	}
	if s := q.Get("type"); s != "" {
		t := domain.TransactionType(s)
		if !t.IsValid() {
			fields = append(fields, domain.FieldError{Field: "type", Message: "is not a transaction type"})
		} else {
			f.Type = &t
		}
	}
	if s := q.Get("status"); s != "" {
		st := domain.TransactionStatus(s)
		switch st {
		case domain.TransactionStatusPending, domain.TransactionStatusCompleted,
			domain.TransactionStatusFailed, domain.TransactionStatusReversed:
			f.Status = &st
		default:
			fields = append(fields, domain.FieldError{Field: "status", Message: "is not a transaction status"})
		}
	}

	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return domain.TransactionFilter{}, PageParams{}, false
	}
	return f, page, true
}
