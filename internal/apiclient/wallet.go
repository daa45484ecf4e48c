package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Balance struct {
	WalletID         uuid.UUID `json:"wallet_id"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	HeldBalance      int64     `json:"held_balance"`
	AvailableBalance int64     `json:"available_balance"`
}

type Hold struct {
	ID            uuid.UUID  `json:"id"`
	WalletID      uuid.UUID  `json:"wallet_id"`
	Amount        int64      `json:"amount"`
	Reason        string     `json:"reason"`
	Reference     *string    `json:"reference,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleaseReason *string    `json:"release_reason,omitempty"`
}

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Type        string    `json:"type"`
	Direction   string    `json:"direction"`
	Amount      int64     `json:"amount"`
	Fee         int64     `json:"fee"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type BalanceChange struct {
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}

type TransferResult struct {
	Transaction Transaction   `json:"transaction"`
	From        BalanceChange `json:"from"`
	To          BalanceChange `json:"to"`
}

type TransferInput struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       int64
	Reference    string
	Narration    string
	PIN          string
}

// Transfer moves funds between wallets. idempotencyKey may be empty, in
// which case a fresh one is generated; pass the same key to retry safely.
func (c *Client) Transfer(ctx context.Context, in TransferInput, idempotencyKey string) (*TransferResult, error) {
	body := map[string]any{
		"from_wallet_id": in.FromWalletID,
		"to_wallet_id":   in.ToWalletID,
		"amount":         in.Amount,
		"reference":      in.Reference,
		"narration":      in.Narration,
		"pin":            in.PIN,
	}
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/transactions/transfer", keyOrNew(idempotencyKey), body, &out); err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	return &out, nil
}

func (c *Client) PlaceHold(ctx context.Context, walletID uuid.UUID, amount int64, reference, note, idempotencyKey string) (*Hold, error) {
	body := map[string]any{"amount": amount, "reference": reference, "note": note}
	var out Hold
	path := fmt.Sprintf("%s/wallets/wallet/%s/hold", apiPrefix, walletID)
	if err := c.do(ctx, http.MethodPost, path, keyOrNew(idempotencyKey), body, &out); err != nil {
		return nil, fmt.Errorf("PlaceHold: %w", err)
	}
	return &out, nil
}

func (c *Client) ReleaseHold(ctx context.Context, walletID, holdID uuid.UUID, idempotencyKey string) (*Hold, error) {
	var out Hold
	path := fmt.Sprintf("%s/wallets/wallet/%s/hold/%s/release", apiPrefix, walletID, holdID)
	if err := c.do(ctx, http.MethodPost, path, keyOrNew(idempotencyKey), nil, &out); err != nil {
		return nil, fmt.Errorf("ReleaseHold: %w", err)
	}
	return &out, nil
}

func (c *Client) WalletBalance(ctx context.Context, walletID uuid.UUID) (*Balance, error) {
	var out Balance
	path := fmt.Sprintf("%s/wallets/wallet/%s/balance", apiPrefix, walletID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, fmt.Errorf("WalletBalance: %w", err)
	}
	return &out, nil
}

func keyOrNew(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}
