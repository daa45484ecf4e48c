package transaction

import (
	"context"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusCompleted ProviderStatus = "completed"
	ProviderStatusFailed    ProviderStatus = "failed"
)

type DepositInit struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  domain.Currency `json:"currency"`
	Channel   string          `json:"channel,omitempty"`
}

type DepositSession struct {
	ProviderRef string `json:"provider_ref"`
	PaymentURL  string `json:"payment_url"`
}

type DepositStatus struct {
	ProviderRef string         `json:"provider_ref"`
	Status      ProviderStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
}

// PayoutRequest sends Amount to a bank account. The fee stays in the ledger.
type PayoutRequest struct {
	Reference     string          `json:"reference"`
	Amount        int64           `json:"amount"`
	Currency      domain.Currency `json:"currency"`
	BankCode      string          `json:"bank_code"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name,omitempty"`
}

type VendRequest struct {
	Reference   string          `json:"reference"`
	Biller      string          `json:"biller"`
	CustomerRef string          `json:"customer_ref"`
	Amount      int64           `json:"amount"`
	Currency    domain.Currency `json:"currency"`
}

type VendResult struct {
	ProviderRef string `json:"provider_ref"`
	Token       string `json:"token,omitempty"`
}

// provider is the external payment provider. Calls are idempotent on the
// request reference, so retrying a call never moves money twice.
type provider interface {
	InitiateDeposit(ctx context.Context, req DepositInit) (*DepositSession, error)
	VerifyDeposit(ctx context.Context, providerRef string) (*DepositStatus, error)
	SubmitPayout(ctx context.Context, req PayoutRequest) (string, error)
	VendBill(ctx context.Context, req VendRequest) (*VendResult, error)
}
