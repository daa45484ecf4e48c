package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TransactionEventType string

const (
	TransactionEventCreated   TransactionEventType = "created"
	TransactionEventSubmitted TransactionEventType = "submitted"
	TransactionEventCompleted TransactionEventType = "completed"
	TransactionEventFailed    TransactionEventType = "failed"
	TransactionEventReversed  TransactionEventType = "reversed"
	TransactionEventIgnored   TransactionEventType = "callback_ignored"

	// TransactionEventSettledLate marks a failed withdrawal whose payout the
	// provider completed anyway. The debit is booked as its own transaction.
	TransactionEventSettledLate TransactionEventType = "settled_late"
)

// TransactionEvent is the append-only audit trail of a transaction's state
// changes.
type TransactionEvent struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	EventType     TransactionEventType
	Actor         string
	Payload       json.RawMessage
	CreatedAt     time.Time
}
