package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// SystemUserID owns the fee, settlement, lending and investment wallets.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

var systemWalletTypeIndex = map[WalletType]int{
	WalletTypeFee:        1,
	WalletTypeSettlement: 2,
	WalletTypeLending:    3,
	WalletTypeInvestment: 4,
}

// SystemWalletID returns the seeded wallet id for a system wallet type and
// currency. The ids match the seed migration.
func SystemWalletID(t WalletType, c Currency) (uuid.UUID, error) {
	ti, ok := systemWalletTypeIndex[t]
	if !ok {
		return uuid.Nil, fmt.Errorf("SystemWalletID: %s is not a system wallet type: %w", t, ErrInvalidRequest)
	}
	for i, sc := range SupportedCurrencies {
		if sc == c {
			return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-%04d-%012d", ti, i+1)), nil
		}
	}
	return uuid.Nil, fmt.Errorf("SystemWalletID: %w", ErrInvalidCurrency)
}
