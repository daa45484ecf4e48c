package handler

import "net/http"

// AppError is the machine-readable error the API returns. Retryable tells the
// client whether repeating the request with the same idempotency key is safe.
type AppError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken          = &AppError{http.StatusUnauthorized, "missing_token", "Authorization header required", false}
	ErrInvalidToken          = &AppError{http.StatusUnauthorized, "invalid_token", "Token is invalid or expired", false}
	ErrInvalidCredentials    = &AppError{http.StatusUnauthorized, "invalid_credentials", "Invalid credentials", false}
	ErrMissingRefreshToken   = &AppError{http.StatusUnauthorized, "missing_refresh_token", "Refresh cookie required", false}
	ErrForbidden             = &AppError{http.StatusForbidden, "forbidden", "You are not allowed to perform this action", false}
	ErrInvalidRequest        = &AppError{http.StatusBadRequest, "invalid_request", "Invalid request body", false}
	ErrValidationFailed      = &AppError{http.StatusBadRequest, "validation_error", "Validation failed", false}
	ErrResourceNotFound      = &AppError{http.StatusNotFound, "not_found", "Resource not found", false}
	ErrInternalError         = &AppError{http.StatusInternalServerError, "internal_error", "An unexpected error occurred", true}
	ErrTimeout               = &AppError{http.StatusGatewayTimeout, "timeout", "The request timed out", true}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required", false}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "idempotency_conflict", "Idempotency key already used with a different request", false}
	ErrIdempotencyInProgress = &AppError{http.StatusConflict, "idempotency_in_progress", "A request with this idempotency key is still running", true}
	ErrInvalidSignature      = &AppError{http.StatusUnauthorized, "invalid_signature", "Webhook signature is invalid", false}

	ErrWalletNotFound      = &AppError{http.StatusNotFound, "wallet_not_found", "Wallet not found", false}
	ErrTransactionNotFound = &AppError{http.StatusNotFound, "transaction_not_found", "Transaction not found", false}
	ErrHoldNotFound        = &AppError{http.StatusNotFound, "hold_not_found", "Hold not found", false}
	ErrDisputeNotFound     = &AppError{http.StatusNotFound, "dispute_not_found", "Dispute not found", false}

	ErrInsufficientFunds  = &AppError{http.StatusUnprocessableEntity, "insufficient_funds", "Insufficient funds", false}
	ErrWalletFrozen       = &AppError{http.StatusUnprocessableEntity, "wallet_frozen", "Wallet is frozen", false}
	ErrWalletClosed       = &AppError{http.StatusUnprocessableEntity, "wallet_closed", "Wallet is closed", false}
	ErrWalletNotEmpty     = &AppError{http.StatusUnprocessableEntity, "wallet_not_empty", "Wallet has a balance or active holds", false}
	ErrSelfTransfer       = &AppError{http.StatusUnprocessableEntity, "self_transfer", "Cannot transfer to the same wallet", false}
	ErrInvalidCurrency    = &AppError{http.StatusBadRequest, "invalid_currency", "Invalid currency", false}
	ErrInvalidAmount      = &AppError{http.StatusBadRequest, "invalid_amount", "Amount must be greater than zero", false}
	ErrCurrencyMismatch   = &AppError{http.StatusUnprocessableEntity, "currency_mismatch", "Currency mismatch", false}
	ErrVersionConflict    = &AppError{http.StatusConflict, "version_conflict", "Resource was modified concurrently, please retry", true}
	ErrTransactionFinal   = &AppError{http.StatusConflict, "transaction_terminal", "Transaction is already final", false}
	ErrPayoutSubmitted    = &AppError{http.StatusConflict, "withdrawal_submitted", "Withdrawal was already sent to the bank and can no longer be cancelled", false}
	ErrNotReversible      = &AppError{http.StatusUnprocessableEntity, "not_reversible", "Only completed transactions can be reversed", false}
	ErrDuplicateReference = &AppError{http.StatusConflict, "duplicate_reference", "Reference already used", false}

	ErrInvalidPin          = &AppError{http.StatusForbidden, "invalid_pin", "Invalid PIN", false}
	ErrPinNotSet           = &AppError{http.StatusUnprocessableEntity, "pin_not_set", "Set a PIN for this wallet first", false}
	ErrPinAlreadySet       = &AppError{http.StatusConflict, "pin_already_set", "PIN is already set, use change instead", false}
	ErrWalletLocked        = &AppError{http.StatusLocked, "wallet_locked", "Too many failed attempts, wallet is temporarily locked", false}
	ErrAuthorizationFailed = &AppError{http.StatusForbidden, "authorization_failed", "Authorization failed", false}
	ErrKYCRequired         = &AppError{http.StatusForbidden, "kyc_required", "Complete identity verification to continue", false}

	ErrProviderError    = &AppError{http.StatusBadGateway, "provider_error", "Payment provider is unavailable", true}
	ErrDisputeExists    = &AppError{http.StatusConflict, "dispute_exists", "Transaction already has an open dispute", false}
	ErrDisputeClosed    = &AppError{http.StatusConflict, "dispute_closed", "Dispute is already closed", false}
	ErrLoanNotActive    = &AppError{http.StatusUnprocessableEntity, "loan_not_active", "Loan is not active", false}
	ErrInvestmentClosed = &AppError{http.StatusUnprocessableEntity, "investment_not_active", "Investment is not active", false}
	ErrEmailTaken       = &AppError{http.StatusConflict, "email_taken", "Email is already registered", false}
)
