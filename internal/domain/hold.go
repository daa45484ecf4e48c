package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldReason string

const (
	HoldReasonCardFunding HoldReason = "card_funding"
	HoldReasonWithdrawal  HoldReason = "withdrawal"
	HoldReasonDispute     HoldReason = "dispute"
	HoldReasonManual      HoldReason = "manual"
)

func (r HoldReason) IsValid() bool {
	switch r {
	case HoldReasonCardFunding, HoldReasonWithdrawal, HoldReasonDispute, HoldReasonManual:
		return true
	default:
		return false
	}
}

type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusCaptured HoldStatus = "captured"
	HoldStatusExpired  HoldStatus = "expired"
)

type Hold struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	Amount        int64
	Reason        HoldReason
	Reference     *string
	Status        HoldStatus
	Metadata      []byte
	CreatedAt     time.Time
	ReleasedAt    *time.Time
	ReleaseReason *string
}

func (h *Hold) IsActive() bool {
	return h.Status == HoldStatusActive
}
