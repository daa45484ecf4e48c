package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrHoldNotFound            = errors.New("hold not found")
	ErrDisputeNotFound         = errors.New("dispute not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrWalletFrozen            = errors.New("wallet frozen")
	ErrWalletClosed            = errors.New("wallet closed")
	ErrSelfTransfer            = errors.New("cannot transfer to same wallet")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrTransactionTerminal     = errors.New("transaction already in terminal state")
	ErrNotReversible           = errors.New("only completed transactions can be reversed")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIdempotencyConflict     = errors.New("idempotency key reused with different parameters")
	ErrInvalidPin              = errors.New("invalid pin")
	ErrPinNotSet               = errors.New("pin not set")
	ErrPinAlreadySet           = errors.New("pin already set")
	ErrAuthorizationFailed     = errors.New("authorization failed")
	ErrKYCRequired             = errors.New("kyc verification required")
	ErrProviderError           = errors.New("external provider error")
	ErrProviderRejected        = errors.New("request rejected by provider")
	ErrWithdrawalSubmitted     = errors.New("withdrawal already submitted to provider")
	ErrDisputeExists           = errors.New("transaction already has an active dispute")
	ErrDisputeClosed           = errors.New("dispute already closed")
	ErrWalletNotEmpty          = errors.New("wallet has balance or active holds")
	ErrLoanNotActive           = errors.New("loan not active")
	ErrInvestmentNotActive     = errors.New("investment not active")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrEmailTaken              = errors.New("email already registered")
)

// WalletLockedError is returned while a wallet is inside a PIN lockout
// cooldown. It matches ErrWalletLocked through errors.Is.
type WalletLockedError struct {
	Until time.Time
}

var ErrWalletLocked = errors.New("wallet locked")

func (e *WalletLockedError) Error() string {
	return fmt.Sprintf("wallet locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *WalletLockedError) Is(target error) bool {
	return target == ErrWalletLocked
}

// FieldError is a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func NewValidationError(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
