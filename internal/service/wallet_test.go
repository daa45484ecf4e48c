package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

func TestWalletService(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	wallets := repository.NewWalletRepository(db)
	holds := repository.NewHoldRepository(db)
	svc := NewWalletService(db, wallets, holds, repository.NewUserRepository(db))
	holdManager := hold.NewManager(db, wallets, holds)

	user := testutil.SeedTestUser(t, db, "wallets@test.com", "Wallet Owner", domain.KYCTierBasic)
	other := testutil.SeedTestUser(t, db, "other@test.com", "Other", domain.KYCTierBasic)

	var first, second *domain.Wallet

	t.Run("first wallet becomes default", func(t *testing.T) {
		var err error
		first, err = svc.CreateWallet(ctx, user.ID, domain.CurrencyNGN, "")
		require.NoError(t, err)
		assert.True(t, first.IsDefault)
		assert.Equal(t, "NGN wallet", first.Name)

		second, err = svc.CreateWallet(ctx, user.ID, domain.CurrencyUSD, "Travel")
		require.NoError(t, err)
		assert.False(t, second.IsDefault)
	})

	t.Run("invalid currency", func(t *testing.T) {
		_, err := svc.CreateWallet(ctx, user.ID, domain.Currency("XYZ"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
	})

	t.Run("other users cannot see the wallet", func(t *testing.T) {
		_, err := svc.GetWallet(ctx, other.ID, first.ID)
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)

		_, err = svc.GetWallet(ctx, user.ID, uuid.New())
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)
	})

	t.Run("set default moves the flag", func(t *testing.T) {
		w, err := svc.SetDefault(ctx, user.ID, second.ID)
		require.NoError(t, err)
		assert.True(t, w.IsDefault)

		reloaded, err := svc.GetWallet(ctx, user.ID, first.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.IsDefault)
	})

	t.Run("rename", func(t *testing.T) {
		w, err := svc.RenameWallet(ctx, user.ID, first.ID, "  Daily  ")
		require.NoError(t, err)
		assert.Equal(t, "Daily", w.Name)

		_, err = svc.RenameWallet(ctx, user.ID, first.ID, "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("freeze and unfreeze", func(t *testing.T) {
		w, err := svc.ChangeStatus(ctx, user.ID, first.ID, domain.WalletStatusFrozen)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusFrozen, w.Status)

		w, err = svc.ChangeStatus(ctx, user.ID, first.ID, domain.WalletStatusActive)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusActive, w.Status)

		_, err = svc.ChangeStatus(ctx, user.ID, first.ID, domain.WalletStatusClosed)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("balance reports held funds", func(t *testing.T) {
		funded := testutil.SeedTestWallet(t, db, user.ID, domain.CurrencyNGN, 10_000)
		_, err := holdManager.Place(ctx, hold.PlaceRequest{WalletID: funded.ID, Amount: 2_500, Reason: domain.HoldReasonManual})
		require.NoError(t, err)

		bal, err := svc.Balance(ctx, user.ID, funded.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000), bal.Balance)
		assert.Equal(t, int64(2_500), bal.Held)
		assert.Equal(t, int64(7_500), bal.Available)

		_, err = svc.CloseWallet(ctx, user.ID, funded.ID)
		assert.ErrorIs(t, err, domain.ErrWalletNotEmpty)
	})

	t.Run("close empty wallet", func(t *testing.T) {
		w, err := svc.CloseWallet(ctx, user.ID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusClosed, w.Status)

		again, err := svc.CloseWallet(ctx, user.ID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusClosed, again.Status)

		_, err = svc.SetDefault(ctx, user.ID, second.ID)
		assert.ErrorIs(t, err, domain.ErrWalletClosed)
	})

	t.Run("list is paginated", func(t *testing.T) {
		page, total, err := svc.ListWallets(ctx, user.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, page, 2)
	})
}
