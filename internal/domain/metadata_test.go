package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_RoundTripKeepsVariantAndProviderBag(t *testing.T) {
	loanID := uuid.New()
	m := Metadata{
		Variant:  LoanMetadata{LoanID: loanID},
		Provider: json.RawMessage(`{"session":"abc"}`),
	}

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"loan","data":{"loan_id":"`+loanID.String()+`"},"provider":{"session":"abc"}}`, string(b))

	var got Metadata
	require.NoError(t, json.Unmarshal(b, &got))
	loan, ok := got.Variant.(LoanMetadata)
	require.True(t, ok, "variant should decode to LoanMetadata, got %T", got.Variant)
	assert.Equal(t, loanID, loan.LoanID)
	assert.JSONEq(t, `{"session":"abc"}`, string(got.Provider))
}

func TestMetadata_UnknownKindRejected(t *testing.T) {
	var m Metadata
	err := json.Unmarshal([]byte(`{"kind":"crypto","data":{}}`), &m)
	require.Error(t, err)
}

func TestMetadata_EmptyAndNull(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.True(t, m.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`{}`), &m))
	assert.True(t, m.IsZero())
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		txType  TransactionType
		wantErr bool
	}{
		{"empty is allowed", Metadata{}, TransactionTypeTransfer, false},
		{"matching transfer", NewMetadata(TransferMetadata{Narration: "rent"}), TransactionTypeTransfer, false},
		{"loan covers repayment", NewMetadata(LoanMetadata{LoanID: uuid.New()}), TransactionTypeLoanRepayment, false},
		{"investment covers return", NewMetadata(InvestmentMetadata{Principal: 100}), TransactionTypeInvestmentReturn, false},
		{"mismatch", NewMetadata(DepositMetadata{}), TransactionTypeWithdrawal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate(tt.txType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}
