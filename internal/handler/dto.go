package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
)

type userDTO struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	KYCTier int       `json:"kyc_tier"`
}

func toUserDTO(u *domain.User) userDTO {
	return userDTO{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Role:    string(u.Role),
		KYCTier: int(u.KYCTier),
	}
}

type walletDTO struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	HeldBalance      int64     `json:"held_balance"`
	AvailableBalance int64     `json:"available_balance"`
	Status           string    `json:"status"`
	IsDefault        bool      `json:"is_default"`
	PinSet           bool      `json:"pin_set"`
	BiometricEnabled bool      `json:"biometric_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toWalletDTO(w *domain.Wallet) walletDTO {
	return walletDTO{
		ID:               w.ID,
		Name:             w.Name,
		Currency:         string(w.Currency),
		Balance:          w.Balance,
		HeldBalance:      w.HeldBalance,
		AvailableBalance: w.AvailableBalance(),
		Status:           string(w.Status),
		IsDefault:        w.IsDefault,
		PinSet:           w.HasPin(),
		BiometricEnabled: w.BiometricEnabled,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

type balanceDTO struct {
	WalletID         uuid.UUID `json:"wallet_id"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	HeldBalance      int64     `json:"held_balance"`
	AvailableBalance int64     `json:"available_balance"`
}

func toBalanceDTO(b *service.WalletBalance) balanceDTO {
	return balanceDTO{
		WalletID:         b.WalletID,
		Currency:         string(b.Currency),
		Balance:          b.Balance,
		HeldBalance:      b.Held,
		AvailableBalance: b.Available,
	}
}

type walletSummaryDTO struct {
	Currency         string `json:"currency"`
	WalletCount      int    `json:"wallet_count"`
	TotalBalance     int64  `json:"total_balance"`
	AvailableBalance int64  `json:"available_balance"`
	HeldBalance      int64  `json:"held_balance"`
}

type holdDTO struct {
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

func toHoldDTO(h *domain.Hold) holdDTO {
	return holdDTO{
		ID:            h.ID,
		WalletID:      h.WalletID,
		Amount:        h.Amount,
		Reason:        string(h.Reason),
		Reference:     h.Reference,
		Status:        string(h.Status),
		CreatedAt:     h.CreatedAt,
		ReleasedAt:    h.ReleasedAt,
		ReleaseReason: h.ReleaseReason,
	}
}

type transactionDTO struct {
	ID                   uuid.UUID        `json:"id"`
	WalletID             uuid.UUID        `json:"wallet_id"`
	CounterpartyWalletID *uuid.UUID       `json:"counterparty_wallet_id,omitempty"`
	Type                 string           `json:"type"`
	Direction            string           `json:"direction"`
	Amount               int64            `json:"amount"`
	Fee                  int64            `json:"fee"`
	Currency             string           `json:"currency"`
	Status               string           `json:"status"`
	Reference            string           `json:"reference"`
	ProviderRef          *string          `json:"provider_ref,omitempty"`
	Description          string           `json:"description,omitempty"`
	Metadata             *domain.Metadata `json:"metadata,omitempty"`
	BalanceBefore        *int64           `json:"balance_before,omitempty"`
	BalanceAfter         *int64           `json:"balance_after,omitempty"`
	FailureReason        *string          `json:"failure_reason,omitempty"`
	ReversalOf           *uuid.UUID       `json:"reversal_of,omitempty"`
	HoldID               *uuid.UUID       `json:"hold_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	dto := transactionDTO{
		ID:                   t.ID,
		WalletID:             t.WalletID,
		CounterpartyWalletID: t.CounterpartyWalletID,
		Type:                 string(t.Type),
		Direction:            string(t.Direction),
		Amount:               t.Amount,
		Fee:                  t.Fee,
		Currency:             string(t.Currency),
		Status:               string(t.Status),
		Reference:            t.Reference,
		ProviderRef:          t.ProviderRef,
		Description:          t.Description,
		BalanceBefore:        t.BalanceBefore,
		BalanceAfter:         t.BalanceAfter,
		FailureReason:        t.FailureReason,
		ReversalOf:           t.ReversalOf,
		HoldID:               t.HoldID,
		CreatedAt:            t.CreatedAt,
		CompletedAt:          t.CompletedAt,
	}
	if !t.Metadata.IsZero() {
		m := t.Metadata
		dto.Metadata = &m
	}
	return dto
}

func toTransactionDTOs(txns []domain.Transaction) []transactionDTO {
	out := make([]transactionDTO, len(txns))
	for i := range txns {
		out[i] = toTransactionDTO(&txns[i])
	}
	return out
}

type transactionEventDTO struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type disputeDTO struct {
	ID                    uuid.UUID  `json:"id"`
	TransactionID         uuid.UUID  `json:"transaction_id"`
	Type                  string     `json:"type"`
	Status                string     `json:"status"`
	Reason                string     `json:"reason"`
	Resolution            *string    `json:"resolution,omitempty"`
	HoldID                *uuid.UUID `json:"hold_id,omitempty"`
	ReversalTransactionID *uuid.UUID `json:"reversal_transaction_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeDTO(d *domain.Dispute) disputeDTO {
	return disputeDTO{
		ID:                    d.ID,
		TransactionID:         d.TransactionID,
		Type:                  string(d.Type),
		Status:                string(d.Status),
		Reason:                d.Reason,
		Resolution:            d.Resolution,
		HoldID:                d.HoldID,
		ReversalTransactionID: d.ReversalTransactionID,
		CreatedAt:             d.CreatedAt,
		ResolvedAt:            d.ResolvedAt,
	}
}

type loanDTO struct {
	ID          uuid.UUID `json:"id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Principal   int64     `json:"principal"`
	Outstanding int64     `json:"outstanding"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toLoanDTO(l *domain.Loan) loanDTO {
	return loanDTO{
		ID:          l.ID,
		WalletID:    l.WalletID,
		Principal:   l.Principal,
		Outstanding: l.Outstanding,
		Currency:    string(l.Currency),
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
	}
}

type investmentDTO struct {
	ID           uuid.UUID  `json:"id"`
	WalletID     uuid.UUID  `json:"wallet_id"`
	Principal    int64      `json:"principal"`
	Currency     string     `json:"currency"`
	RateBPS      int64      `json:"rate_bps"`
	DurationDays int        `json:"duration_days"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	MaturesAt    time.Time  `json:"matures_at"`
	LiquidatedAt *time.Time `json:"liquidated_at,omitempty"`
	Returned     *int64     `json:"returned,omitempty"`
	Penalty      *int64     `json:"penalty,omitempty"`
}

func toInvestmentDTO(i *domain.Investment) investmentDTO {
	return investmentDTO{
		ID:           i.ID,
		WalletID:     i.WalletID,
		Principal:    i.Principal,
		Currency:     string(i.Currency),
		RateBPS:      i.RateBPS,
		DurationDays: i.DurationDays,
		Status:       string(i.Status),
		StartedAt:    i.StartedAt,
		MaturesAt:    i.MaturesAt,
		LiquidatedAt: i.LiquidatedAt,
		Returned:     i.Returned,
		Penalty:      i.Penalty,
	}
}
