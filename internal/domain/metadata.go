package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type MetadataKind string

const (
	MetadataKindTransfer    MetadataKind = "transfer"
	MetadataKindDeposit     MetadataKind = "deposit"
	MetadataKindWithdrawal  MetadataKind = "withdrawal"
	MetadataKindCardFunding MetadataKind = "card_funding"
	MetadataKindBillPayment MetadataKind = "bill_payment"
	MetadataKindLoan        MetadataKind = "loan"
	MetadataKindInvestment  MetadataKind = "investment"
	MetadataKindReversal    MetadataKind = "reversal"
)

// MetadataVariant is one fixed-schema metadata shape.
type MetadataVariant interface {
	Kind() MetadataKind
}

type TransferMetadata struct {
	Narration     string `json:"narration,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
}

type DepositMetadata struct {
	Channel    string `json:"channel,omitempty"`
	PaymentURL string `json:"payment_url,omitempty"`
}

type WithdrawalMetadata struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name,omitempty"`
}

type CardFundingMetadata struct {
	CardID string `json:"card_id"`
}

type BillPaymentMetadata struct {
	Biller      string `json:"biller"`
	Category    string `json:"category,omitempty"`
	CustomerRef string `json:"customer_ref"`
	Token       string `json:"token,omitempty"`
}

type LoanMetadata struct {
	LoanID uuid.UUID `json:"loan_id"`
}

type InvestmentMetadata struct {
	InvestmentID uuid.UUID `json:"investment_id"`
	Principal    int64     `json:"principal"`
	Accrued      int64     `json:"accrued,omitempty"`
	Penalty      int64     `json:"penalty,omitempty"`
}

type ReversalMetadata struct {
	OriginalID        uuid.UUID `json:"original_id"`
	OriginalReference string    `json:"original_reference"`
	Reason            string    `json:"reason"`
}

func (TransferMetadata) Kind() MetadataKind { return MetadataKindTransfer }
func (DepositMetadata) Kind() MetadataKind { return MetadataKindDeposit }
func (WithdrawalMetadata) Kind() MetadataKind { return MetadataKindWithdrawal }
func (CardFundingMetadata) Kind() MetadataKind { return MetadataKindCardFunding }
func (BillPaymentMetadata) Kind() MetadataKind { return MetadataKindBillPayment }
func (LoanMetadata) Kind() MetadataKind { return MetadataKindLoan }
func (InvestmentMetadata) Kind() MetadataKind { return MetadataKindInvestment }
func (ReversalMetadata) Kind() MetadataKind { return MetadataKindReversal }

// Metadata is a tagged union over the variants. Provider carries opaque
// passthrough fields from an external provider and nothing else.
type Metadata struct {
	Variant  MetadataVariant
	Provider json.RawMessage
}

func NewMetadata(v MetadataVariant) Metadata {
	return Metadata{Variant: v}
}

// MetadataKindFor maps a transaction type to the metadata shape it carries.
func MetadataKindFor(t TransactionType) MetadataKind {
	switch t {
	case TransactionTypeLoanDisbursement, TransactionTypeLoanRepayment:
		return MetadataKindLoan
	case TransactionTypeInvestment, TransactionTypeInvestmentReturn:
		return MetadataKindInvestment
	default:
		return MetadataKind(t)
	}
}

type metadataEnvelope struct {
	Kind     MetadataKind    `json:"kind,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Provider json.RawMessage `json:"provider,omitempty"`
}

func (m Metadata) IsZero() bool {
	return m.Variant == nil && len(m.Provider) == 0
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	env := metadataEnvelope{Provider: m.Provider}
	if m.Variant != nil {
		data, err := json.Marshal(m.Variant)
		if err != nil {
			return nil, fmt.Errorf("Metadata.MarshalJSON: %w", err)
		}
		env.Kind = m.Variant.Kind()
		env.Data = data
	}
	return json.Marshal(env)
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*m = Metadata{}
		return nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("Metadata.UnmarshalJSON: %w", err)
	}
	m.Provider = env.Provider
	m.Variant = nil
	if env.Kind == "" {
		return nil
	}

	v, err := newVariant(env.Kind)
	if err != nil {
		return fmt.Errorf("Metadata.UnmarshalJSON: %w", err)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("Metadata.UnmarshalJSON: %s: %w", env.Kind, err)
		}
	}
	m.Variant = derefVariant(v)
	return nil
}

func newVariant(kind MetadataKind) (any, error) {
	switch kind {
	case MetadataKindTransfer:
		return &TransferMetadata{}, nil
	case MetadataKindDeposit:
		return &DepositMetadata{}, nil
	case MetadataKindWithdrawal:
		return &WithdrawalMetadata{}, nil
	case MetadataKindCardFunding:
		return &CardFundingMetadata{}, nil
	case MetadataKindBillPayment:
		return &BillPaymentMetadata{}, nil
	case MetadataKindLoan:
		return &LoanMetadata{}, nil
	case MetadataKindInvestment:
		return &InvestmentMetadata{}, nil
	case MetadataKindReversal:
		return &ReversalMetadata{}, nil
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", kind)
	}
}

func derefVariant(v any) MetadataVariant {
	switch t := v.(type) {
	case *TransferMetadata:
		return *t
	case *DepositMetadata:
		return *t
	case *WithdrawalMetadata:
		return *t
	case *CardFundingMetadata:
		return *t
	case *BillPaymentMetadata:
		return *t
	case *LoanMetadata:
		return *t
	case *InvestmentMetadata:
		return *t
	case *ReversalMetadata:
		return *t
	default:
		return nil
	}
}

// Validate checks the variant matches the transaction type it is attached to.
func (m Metadata) Validate(t TransactionType) error {
	if m.Variant == nil {
		return nil
	}
	if want := MetadataKindFor(t); m.Variant.Kind() != want {
		return fmt.Errorf("metadata kind %q does not match transaction type %q: %w", m.Variant.Kind(), t, ErrInvalidRequest)
	}
	return nil
}
