package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// RetryableHeader marks an error response the client may retry with the same
// idempotency key. Such responses are never stored for replay.
const RetryableHeader = "X-Retryable"

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type Page struct {
	Items      any        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{Data: data})
}

func RespondMessage(w http.ResponseWriter, status int, data any, message string) {
	RespondJSON(w, status, APIResponse{Data: data, Message: message})
}

func RespondPage(w http.ResponseWriter, items any, p PageParams, total int) {
	RespondSuccess(w, http.StatusOK, Page{
		Items: items,
		Pagination: Pagination{
			Limit:   p.Limit,
			Offset:  p.Offset,
			Total:   total,
			HasMore: p.Offset+p.Limit < total,
		},
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	if appErr.Retryable {
		w.Header().Set(RetryableHeader, "true")
	}
	RespondJSON(w, appErr.Status, APIResponse{
		Data: APIError{
			Message:   appErr.Message,
			Code:      appErr.Code,
			Retryable: appErr.Retryable,
			Details:   details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []domain.FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		RespondValidationError(w, vErr.Fields)
		return
	}

	var locked *domain.WalletLockedError
	if errors.As(err, &locked) {
		RespondAppError(w, ErrWalletLocked, map[string]any{"locked_until": locked.Until.UTC()})
		return
	}

	RespondAppError(w, appErrorFor(err), nil)
}

func appErrorFor(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrWalletNotFound):
		return ErrWalletNotFound
	case errors.Is(err, domain.ErrTransactionNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, domain.ErrHoldNotFound):
		return ErrHoldNotFound
	case errors.Is(err, domain.ErrDisputeNotFound):
		return ErrDisputeNotFound
	case errors.Is(err, domain.ErrNotFound):
		return ErrResourceNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, domain.ErrWalletFrozen):
		return ErrWalletFrozen
	case errors.Is(err, domain.ErrWalletClosed):
		return ErrWalletClosed
	case errors.Is(err, domain.ErrWalletNotEmpty):
		return ErrWalletNotEmpty
	case errors.Is(err, domain.ErrSelfTransfer):
		return ErrSelfTransfer
	case errors.Is(err, domain.ErrInvalidCurrency):
		return ErrInvalidCurrency
	case errors.Is(err, domain.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return ErrCurrencyMismatch
	case errors.Is(err, domain.ErrVersionConflict):
		return ErrVersionConflict
	case errors.Is(err, domain.ErrWithdrawalSubmitted):
		return ErrPayoutSubmitted
	case errors.Is(err, domain.ErrTransactionTerminal):
		return ErrTransactionFinal
	case errors.Is(err, domain.ErrNotReversible):
		return ErrNotReversible
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		return ErrDuplicateReference
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return ErrIdempotencyConflict
	case errors.Is(err, domain.ErrInvalidPin):
		return ErrInvalidPin
	case errors.Is(err, domain.ErrPinNotSet):
		return ErrPinNotSet
	case errors.Is(err, domain.ErrPinAlreadySet):
		return ErrPinAlreadySet
	case errors.Is(err, domain.ErrWalletLocked):
		return ErrWalletLocked
	case errors.Is(err, domain.ErrAuthorizationFailed):
		return ErrAuthorizationFailed
	case errors.Is(err, domain.ErrKYCRequired):
		return ErrKYCRequired
	case errors.Is(err, domain.ErrProviderError):
		return ErrProviderError
	case errors.Is(err, domain.ErrDisputeExists):
		return ErrDisputeExists
	case errors.Is(err, domain.ErrDisputeClosed):
		return ErrDisputeClosed
	case errors.Is(err, domain.ErrLoanNotActive):
		return ErrLoanNotActive
	case errors.Is(err, domain.ErrInvestmentNotActive):
		return ErrInvestmentClosed
	case errors.Is(err, domain.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, domain.ErrEmailTaken):
		return ErrEmailTaken
	case errors.Is(err, domain.ErrForbidden):
		return ErrForbidden
	case errors.Is(err, domain.ErrInvalidRequest):
		return ErrInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		slog.Error("unhandled domain error", "error", err)
		return ErrInternalError
	}
}
