package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

type WebhookEventType string

const (
	WebhookEventDepositCompleted    WebhookEventType = "deposit.completed"
	WebhookEventDepositFailed       WebhookEventType = "deposit.failed"
	WebhookEventWithdrawalCompleted WebhookEventType = "withdrawal.completed"
	WebhookEventWithdrawalFailed    WebhookEventType = "withdrawal.failed"
	WebhookEventWithdrawalReversed  WebhookEventType = "withdrawal.reversed"
	WebhookEventCardFundingSettled  WebhookEventType = "card_funding.settled"
	WebhookEventCardFundingDeclined WebhookEventType = "card_funding.declined"
)

func (t WebhookEventType) IsValid() bool {
	switch t {
	case WebhookEventDepositCompleted, WebhookEventDepositFailed,
		WebhookEventWithdrawalCompleted, WebhookEventWithdrawalFailed, WebhookEventWithdrawalReversed,
		WebhookEventCardFundingSettled, WebhookEventCardFundingDeclined:
		return true
	default:
		return false
	}
}

// WebhookEvent is a provider callback stored verbatim before processing.
// EventID is the provider's id and deduplicates redeliveries.
type WebhookEvent struct {
	ID          uuid.UUID
	EventID     string
	EventType   WebhookEventType
	ProviderRef string
	Payload     json.RawMessage
	Status      WebhookEventStatus
	Attempts    int
	LastAttempt *time.Time
	LastError   *string
	CreatedAt   time.Time
}

// ProviderEvent is the decoded callback payload.
type ProviderEvent struct {
	EventID     string           `json:"event_id"`
	EventType   WebhookEventType `json:"event_type"`
	ProviderRef string           `json:"provider_ref"`
	Reference   string           `json:"reference"`
	Amount      int64            `json:"amount"`
	Currency    Currency         `json:"currency"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Extra       json.RawMessage  `json:"extra,omitempty"`
}
