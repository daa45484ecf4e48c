package domain

import (
	"time"

	"github.com/google/uuid"
)

type DisputeType string

const (
	DisputeTypeUnauthorized DisputeType = "unauthorized"
	DisputeTypeNotReceived  DisputeType = "not_received"
	DisputeTypeDuplicate    DisputeType = "duplicate"
	DisputeTypeIncorrect    DisputeType = "incorrect_amount"
	DisputeTypeOther        DisputeType = "other"
)

func (t DisputeType) IsValid() bool {
	switch t {
	case DisputeTypeUnauthorized, DisputeTypeNotReceived, DisputeTypeDuplicate,
		DisputeTypeIncorrect, DisputeTypeOther:
		return true
	default:
		return false
	}
}

type DisputeStatus string

const (
	DisputeStatusPending       DisputeStatus = "pending"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
	DisputeStatusRejected      DisputeStatus = "rejected"
)

func (s DisputeStatus) IsOpen() bool {
	return s == DisputeStatusPending || s == DisputeStatusInvestigating
}

// Dispute references a transaction without ever editing it. A refund is an
// independent reversal transaction.
type Dispute struct {
	ID                    uuid.UUID
	TransactionID         uuid.UUID
	UserID                uuid.UUID
	Type                  DisputeType
	Status                DisputeStatus
	Reason                string
	Resolution            *string
	HoldID                *uuid.UUID
	ReversalTransactionID *uuid.UUID
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ResolvedAt            *time.Time
}
