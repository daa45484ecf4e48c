package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const TestPassword = "password123"

func SystemWallet(t *testing.T, walletType domain.WalletType, currency domain.Currency) uuid.UUID {
	t.Helper()

	id, err := domain.SystemWalletID(walletType, currency)
	if err != nil {
		t.Fatalf("system wallet %s/%s: %v", walletType, currency, err)
	}
	return id
}

func SeedTestUser(t *testing.T, db *sql.DB, email, name string, kycTier domain.KYCTier) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		KYCTier:      kycTier,
		Status:       domain.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, role, kyc_tier, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.KYCTier, u.Status, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test user %s: %v", email, err)
	}
	return u
}

// SeedTestWallet inserts a user wallet with an opening balance. The opening
// balance is written directly and has no ledger entries behind it.
func SeedTestWallet(t *testing.T, db *sql.DB, userID uuid.UUID, currency domain.Currency, balance int64) *domain.Wallet {
	t.Helper()

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:         uuid.New(),
		UserID:     userID,
		Currency:   currency,
		WalletType: domain.WalletTypeUser,
		Name:       string(currency) + " wallet",
		Balance:    balance,
		Version:    1,
		Status:     domain.WalletStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := db.Exec(
		`INSERT INTO wallets (id, user_id, currency, wallet_type, name, balance, version, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.Currency, w.WalletType, w.Name, w.Balance, w.Version, w.Status, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed test wallet %s/%s: %v", userID, currency, err)
	}
	return w
}

func SetWalletStatus(t *testing.T, db *sql.DB, walletID uuid.UUID, status domain.WalletStatus) {
	t.Helper()

	if _, err := db.Exec(`UPDATE wallets SET status = $1 WHERE id = $2`, status, walletID); err != nil {
		t.Fatalf("set wallet status %s: %v", walletID, err)
	}
}

func GetWalletBalance(t *testing.T, db *sql.DB, walletID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
	if err != nil {
		t.Fatalf("get wallet balance %s: %v", walletID, err)
	}
	return balance
}

// GetWalletBalances returns balance, held balance and the sum of active holds
// read in one statement.
func GetWalletBalances(t *testing.T, db *sql.DB, walletID uuid.UUID) (balance, held, activeHolds int64) {
	t.Helper()

	err := db.QueryRow(
		`SELECT w.balance, w.held_balance,
		        COALESCE((SELECT SUM(amount) FROM holds WHERE wallet_id = w.id AND status = 'active'), 0)
		 FROM wallets w WHERE w.id = $1`, walletID,
	).Scan(&balance, &held, &activeHolds)
	if err != nil {
		t.Fatalf("get wallet balances %s: %v", walletID, err)
	}
	return balance, held, activeHolds
}

func CountLedgerEntries(t *testing.T, db *sql.DB, transactionID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE transaction_id = $1`, transactionID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for transaction %s: %v", transactionID, err)
	}
	return count
}

func CountTransactionsByReference(t *testing.T, db *sql.DB, reference string) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE reference = $1`, reference).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions %s: %v", reference, err)
	}
	return count
}

// LedgerSum is the sum of signed ledger entries for a wallet. For a wallet
// seeded with SeedTestWallet it equals balance minus the opening balance.
func LedgerSum(t *testing.T, db *sql.DB, walletID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE wallet_id = $1`, walletID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("ledger sum %s: %v", walletID, err)
	}
	return sum
}
