package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/pricing"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

const testPin = "1234"

var pin = authz.Credentials{PIN: testPin}

type fakeProvider struct {
	mu            sync.Mutex
	depositStatus ProviderStatus
	depositErr    error
	payoutErr     error
	vendErr       error
	payouts       []PayoutRequest
}

func (f *fakeProvider) InitiateDeposit(_ context.Context, req DepositInit) (*DepositSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	return &DepositSession{ProviderRef: "prov-" + req.Reference, PaymentURL: "https://pay.test/" + req.Reference}, nil
}

func (f *fakeProvider) VerifyDeposit(_ context.Context, providerRef string) (*DepositStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &DepositStatus{ProviderRef: providerRef, Status: f.depositStatus}, nil
}

func (f *fakeProvider) SubmitPayout(_ context.Context, req PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payoutErr != nil {
		return "", f.payoutErr
	}
	f.payouts = append(f.payouts, req)
	return "prov-" + req.Reference, nil
}

func (f *fakeProvider) VendBill(_ context.Context, req VendRequest) (*VendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vendErr != nil {
		return nil, f.vendErr
	}
	return &VendResult{ProviderRef: "bill-" + req.Reference, Token: "1234-5678-9012"}, nil
}

type testEnv struct {
	db       *sql.DB
	svc      *Service
	gate     *authz.Gate
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	wallets := repository.NewWalletRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	transactions := repository.NewTransactionRepository(db)
	events := repository.NewTransactionEventRepository(db)

	engine := ledger.NewEngine(db, wallets, repository.NewLedgerRepository(db), transactions, holdRepo, events)
	gate := authz.NewGate(
		wallets,
		repository.NewBiometricDeviceRepository(db),
		repository.NewPinAttemptRepository(db, domain.LockoutPolicy{
			MaxAttempts: 3,
			Window:      15 * time.Minute,
			Cooldown:    30 * time.Minute,
		}),
		authz.WithBcryptCost(bcrypt.MinCost),
	)
	prov := &fakeProvider{depositStatus: ProviderStatusPending}

	svc := NewService(Deps{
		DB:           db,
		Engine:       engine,
		Holds:        hold.NewManager(db, wallets, holdRepo),
		Gate:         gate,
		Pricer:       pricing.NewPricer(config.FeeConfig{TransferFlat: 50, WithdrawalFlat: 100}, 0.25),
		Provider:     prov,
		Wallets:      wallets,
		Users:        repository.NewUserRepository(db),
		Transactions: transactions,
		Events:       events,
		Loans:        repository.NewLoanRepository(db),
		Investments:  repository.NewInvestmentRepository(db),
		Disputes:     repository.NewDisputeRepository(db),
		Limits:       Limits{Tier1: 5000, Tier2: 50000},
	})

	return &testEnv{db: db, svc: svc, gate: gate, provider: prov}
}

// seedWallet creates a user and a wallet with a PIN set.
func (e *testEnv) seedWallet(t *testing.T, email string, tier domain.KYCTier, balance int64) (*domain.User, *domain.Wallet) {
	t.Helper()

	u := testutil.SeedTestUser(t, e.db, email, email, tier)
	w := testutil.SeedTestWallet(t, e.db, u.ID, domain.CurrencyNGN, balance)
	require.NoError(t, e.gate.SetPin(context.Background(), w.ID, testPin))
	return u, w
}

func (e *testEnv) txnStatus(t *testing.T, id uuid.UUID) domain.TransactionStatus {
	t.Helper()

	txn, err := e.svc.transactions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return txn.Status
}

func TestService(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t)
	svc := env.svc
	db := env.db
	ctx := context.Background()

	t.Run("transfer charges fee and conserves money", func(t *testing.T) {
		alice, a := env.seedWallet(t, "trf-a@test.com", domain.KYCTierFull, 10000)
		_, b := env.seedWallet(t, "trf-b@test.com", domain.KYCTierFull, 500)

		res, err := svc.Transfer(ctx, TransferRequest{
			UserID:       alice.ID,
			FromWalletID: a.ID,
			ToWalletID:   b.ID,
			Amount:       4000,
			Reference:    "trf-1",
			Credentials:  pin,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(50), res.Transaction.Fee)
		assert.Equal(t, ledger.Balance{Before: 10000, After: 5950}, res.From)
		assert.Equal(t, ledger.Balance{Before: 500, After: 4500}, res.To)
		assert.Equal(t, res.From.Before+res.To.Before, res.From.After+res.To.After+res.Transaction.Fee)
		assert.Equal(t, int64(5950), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, int64(4500), testutil.GetWalletBalance(t, db, b.ID))

		replay, err := svc.Transfer(ctx, TransferRequest{
			UserID:       alice.ID,
			FromWalletID: a.ID,
			ToWalletID:   b.ID,
			Amount:       4000,
			Reference:    "trf-1",
			Credentials:  pin,
		})
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		assert.Equal(t, res.Transaction.ID, replay.Transaction.ID)
		assert.Equal(t, res.From, replay.From)
		assert.Equal(t, int64(5950), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("transfer rejections leave balances untouched", func(t *testing.T) {
		alice, a := env.seedWallet(t, "rej-a@test.com", domain.KYCTierFull, 10000)
		_, b := env.seedWallet(t, "rej-b@test.com", domain.KYCTierFull, 0)
		basic, c := env.seedWallet(t, "rej-c@test.com", domain.KYCTierBasic, 10000)
		none, d := env.seedWallet(t, "rej-d@test.com", domain.KYCTierNone, 10000)
		usdUser := testutil.SeedTestUser(t, db, "rej-usd@test.com", "USD", domain.KYCTierFull)
		usd := testutil.SeedTestWallet(t, db, usdUser.ID, domain.CurrencyUSD, 0)

		tests := []struct {
			name    string
			req     TransferRequest
			wantErr error
		}{
			{
				name:    "wrong pin",
				req:     TransferRequest{UserID: alice.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 100, Credentials: authz.Credentials{PIN: "9999"}},
				wantErr: domain.ErrInvalidPin,
			},
			{
				name:    "self transfer",
				req:     TransferRequest{UserID: alice.ID, FromWalletID: a.ID, ToWalletID: a.ID, Amount: 100, Credentials: pin},
				wantErr: domain.ErrSelfTransfer,
			},
			{
				name:    "currency mismatch",
				req:     TransferRequest{UserID: alice.ID, FromWalletID: a.ID, ToWalletID: usd.ID, Amount: 100, Credentials: pin},
				wantErr: domain.ErrCurrencyMismatch,
			},
			{
				name:    "someone else's wallet",
				req:     TransferRequest{UserID: alice.ID, FromWalletID: c.ID, ToWalletID: b.ID, Amount: 100, Credentials: pin},
				wantErr: domain.ErrWalletNotFound,
			},
			{
				name:    "over basic tier limit",
				req:     TransferRequest{UserID: basic.ID, FromWalletID: c.ID, ToWalletID: b.ID, Amount: 5001, Credentials: pin},
				wantErr: domain.ErrKYCRequired,
			},
			{
				name:    "no kyc",
				req:     TransferRequest{UserID: none.ID, FromWalletID: d.ID, ToWalletID: b.ID, Amount: 100, Credentials: pin},
				wantErr: domain.ErrKYCRequired,
			},
			{
				name:    "insufficient funds",
				req:     TransferRequest{UserID: alice.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 9960, Credentials: pin},
				wantErr: domain.ErrInsufficientFunds,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Transfer(ctx, tt.req)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}

		assert.Equal(t, int64(10000), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, b.ID))
		assert.Equal(t, int64(10000), testutil.GetWalletBalance(t, db, c.ID))
	})

	t.Run("basic tier within limit succeeds", func(t *testing.T) {
		basic, a := env.seedWallet(t, "tier1-a@test.com", domain.KYCTierBasic, 10000)
		_, b := env.seedWallet(t, "tier1-b@test.com", domain.KYCTierFull, 0)

		_, err := svc.Transfer(ctx, TransferRequest{
			UserID: basic.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 5000, Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4950), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		alice, a := env.seedWallet(t, "conc-a@test.com", domain.KYCTierFull, 1000)
		_, b := env.seedWallet(t, "conc-b@test.com", domain.KYCTierFull, 0)

		const workers = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			other     []error
		)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.Transfer(ctx, TransferRequest{
					UserID:       alice.ID,
					FromWalletID: a.ID,
					ToWalletID:   b.ID,
					Amount:       200,
					Reference:    fmt.Sprintf("conc-%d", i),
					Credentials:  pin,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case !errors.Is(err, domain.ErrInsufficientFunds):
					other = append(other, err)
				}
			}(i)
		}
		wg.Wait()

		require.Empty(t, other)
		assert.Equal(t, 4, succeeded)
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, int64(800), testutil.GetWalletBalance(t, db, b.ID))
	})

	t.Run("withdrawal beyond balance creates nothing", func(t *testing.T) {
		alice, a := env.seedWallet(t, "wd-poor@test.com", domain.KYCTierFull, 1500)

		_, err := svc.InitiateWithdrawal(ctx, WithdrawalRequest{
			UserID:        alice.ID,
			WalletID:      a.ID,
			Amount:        2000,
			Reference:     "wd-poor-1",
			BankCode:      "058",
			AccountNumber: "0123456789",
			Credentials:   pin,
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		balance, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(1500), balance)
		assert.Equal(t, int64(0), held)
		assert.Equal(t, 0, testutil.CountTransactionsByReference(t, db, "wd-poor-1"))
	})

	t.Run("withdrawal holds then captures on callback", func(t *testing.T) {
		alice, a := env.seedWallet(t, "wd-ok@test.com", domain.KYCTierFull, 5000)

		txn, err := svc.InitiateWithdrawal(ctx, WithdrawalRequest{
			UserID:        alice.ID,
			WalletID:      a.ID,
			Amount:        1000,
			Reference:     "wd-ok-1",
			BankCode:      "058",
			AccountNumber: "0123456789",
			AccountName:   "Alice",
			Credentials:   pin,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, txn.Status)
		require.NotNil(t, txn.HoldID)
		require.NotNil(t, txn.ProviderRef)

		balance, held, active := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(5000), balance)
		assert.Equal(t, int64(1100), held)
		assert.Equal(t, held, active)

		ev := domain.ProviderEvent{
			EventID:     "evt-wd-ok-1",
			EventType:   domain.WebhookEventWithdrawalCompleted,
			ProviderRef: *txn.ProviderRef,
		}
		require.NoError(t, svc.ProcessProviderEvent(ctx, ev))
		require.NoError(t, svc.ProcessProviderEvent(ctx, ev))

		balance, held, _ = testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(3900), balance)
		assert.Equal(t, int64(0), held)
		assert.Equal(t, domain.TransactionStatusCompleted, env.txnStatus(t, txn.ID))
		assert.Equal(t, int64(-1100), testutil.LedgerSum(t, db, a.ID))

		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:     "evt-wd-ok-2",
			EventType:   domain.WebhookEventWithdrawalReversed,
			ProviderRef: *txn.ProviderRef,
			Reason:      "beneficiary bank rejected",
		}))
		assert.Equal(t, int64(5000), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, domain.TransactionStatusReversed, env.txnStatus(t, txn.ID))
		assert.Equal(t, 1, testutil.CountTransactionsByReference(t, db, ledger.ReversalReference("wd-ok-1")))
	})

	setPayoutErr := func(t *testing.T, err error) {
		t.Helper()
		env.provider.mu.Lock()
		env.provider.payoutErr = err
		env.provider.mu.Unlock()
		t.Cleanup(func() {
			env.provider.mu.Lock()
			env.provider.payoutErr = nil
			env.provider.mu.Unlock()
		})
	}

	t.Run("rejected payout submission releases the hold", func(t *testing.T) {
		alice, a := env.seedWallet(t, "wd-fail@test.com", domain.KYCTierFull, 5000)
		setPayoutErr(t, fmt.Errorf("SubmitPayout: %w: %w", domain.ErrProviderError, domain.ErrProviderRejected))

		_, err := svc.InitiateWithdrawal(ctx, WithdrawalRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 1000, Reference: "wd-fail-1",
			BankCode: "058", AccountNumber: "0123456789", Credentials: pin,
		})
		assert.ErrorIs(t, err, domain.ErrProviderError)

		balance, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(5000), balance)
		assert.Equal(t, int64(0), held)

		txn, err := svc.transactions.GetByReference(ctx, "wd-fail-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	})

	t.Run("submitted withdrawal cannot be cancelled", func(t *testing.T) {
		alice, a := env.seedWallet(t, "wd-cancel@test.com", domain.KYCTierFull, 5000)

		txn, err := svc.InitiateWithdrawal(ctx, WithdrawalRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 1000, Reference: "wd-cancel-1",
			BankCode: "058", AccountNumber: "0123456789", Credentials: pin,
		})
		require.NoError(t, err)
		require.NotNil(t, txn.ProviderRef)

		_, err = svc.CancelWithdrawal(ctx, alice.ID, txn.ID)
		assert.ErrorIs(t, err, domain.ErrWithdrawalSubmitted)
		assert.Equal(t, domain.TransactionStatusPending, env.txnStatus(t, txn.ID))
		_, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(1100), held, "hold stays until the provider answers")

		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:     "evt-wd-cancel-1",
			EventType:   domain.WebhookEventWithdrawalCompleted,
			ProviderRef: *txn.ProviderRef,
		}))

		balance, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(3900), balance)
		assert.Equal(t, int64(0), held)
		assert.Equal(t, domain.TransactionStatusCompleted, env.txnStatus(t, txn.ID))
		assert.Equal(t, int64(-1100), testutil.LedgerSum(t, db, a.ID))
	})

	t.Run("payout completed after cancellation is booked once", func(t *testing.T) {
		alice, a := env.seedWallet(t, "wd-late@test.com", domain.KYCTierFull, 5000)
		setPayoutErr(t, fmt.Errorf("SubmitPayout: %w: timeout", domain.ErrProviderError))

		txn, err := svc.InitiateWithdrawal(ctx, WithdrawalRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 1000, Reference: "wd-late-1",
			BankCode: "058", AccountNumber: "0123456789", Credentials: pin,
		})
		require.NoError(t, err, "unknown submission outcome keeps the withdrawal pending")
		assert.Equal(t, domain.TransactionStatusPending, txn.Status)
		assert.Nil(t, txn.ProviderRef)
		_, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(1100), held)

		cancelled, err := svc.CancelWithdrawal(ctx, alice.ID, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusFailed, cancelled.Status)
		_, err = svc.CancelWithdrawal(ctx, alice.ID, txn.ID)
		assert.ErrorIs(t, err, domain.ErrTransactionTerminal)

		balance, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(5000), balance)
		assert.Equal(t, int64(0), held)

		for _, id := range []string{"evt-wd-late-1", "evt-wd-late-2"} {
			require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
				EventID:   id,
				EventType: domain.WebhookEventWithdrawalCompleted,
				Reference: "wd-late-1",
			}))
		}

		balance, held, _ = testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(3900), balance, "payout debited exactly once")
		assert.Equal(t, int64(0), held)
		assert.Equal(t, int64(-1100), testutil.LedgerSum(t, db, a.ID))
		assert.Equal(t, 1, testutil.CountTransactionsByReference(t, db, LateSettlementReference("wd-late-1")))
		assert.Equal(t, domain.TransactionStatusFailed, env.txnStatus(t, txn.ID))

		events, err := svc.ListTransactionEvents(ctx, alice.ID, txn.ID)
		require.NoError(t, err)
		var settledLate int
		for _, e := range events {
			if e.EventType == domain.TransactionEventSettledLate {
				settledLate++
			}
		}
		assert.Equal(t, 1, settledLate)

		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:   "evt-wd-late-3",
			EventType: domain.WebhookEventWithdrawalReversed,
			Reference: "wd-late-1",
			Reason:    "beneficiary account closed",
		}))
		assert.Equal(t, int64(5000), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, 1, testutil.CountTransactionsByReference(t, db, ledger.ReversalReference(LateSettlementReference("wd-late-1"))))
	})

	t.Run("deposit credits only after provider confirms", func(t *testing.T) {
		alice, a := env.seedWallet(t, "dep@test.com", domain.KYCTierFull, 0)

		txn, err := svc.InitiateDeposit(ctx, DepositRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 7000, Reference: "dep-1", Channel: "card",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, txn.Status)
		require.NotNil(t, txn.ProviderRef)
		md, ok := txn.Metadata.Variant.(domain.DepositMetadata)
		require.True(t, ok)
		assert.NotEmpty(t, md.PaymentURL)

		again, err := svc.InitiateDeposit(ctx, DepositRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 7000, Reference: "dep-1", Channel: "card",
		})
		require.NoError(t, err)
		assert.Equal(t, txn.ID, again.ID)

		pending, err := svc.VerifyDeposit(ctx, alice.ID, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, pending.Status)
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, a.ID))

		env.provider.mu.Lock()
		env.provider.depositStatus = ProviderStatusCompleted
		env.provider.mu.Unlock()
		t.Cleanup(func() {
			env.provider.mu.Lock()
			env.provider.depositStatus = ProviderStatusPending
			env.provider.mu.Unlock()
		})

		done, err := svc.VerifyDeposit(ctx, alice.ID, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusCompleted, done.Status)
		assert.Equal(t, int64(7000), testutil.GetWalletBalance(t, db, a.ID))

		// The callback for the same deposit arrives after verification.
		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:     "evt-dep-1",
			EventType:   domain.WebhookEventDepositCompleted,
			ProviderRef: *txn.ProviderRef,
		}))
		assert.Equal(t, int64(7000), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, 2, testutil.CountLedgerEntries(t, db, txn.ID))
	})

	t.Run("deposit failure callback fails the pending deposit", func(t *testing.T) {
		alice, a := env.seedWallet(t, "dep-fail@test.com", domain.KYCTierFull, 0)

		txn, err := svc.InitiateDeposit(ctx, DepositRequest{UserID: alice.ID, WalletID: a.ID, Amount: 3000, Reference: "dep-fail-1"})
		require.NoError(t, err)

		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:   "evt-dep-fail-1",
			EventType: domain.WebhookEventDepositFailed,
			Reference: "dep-fail-1",
			Reason:    "card declined",
		}))
		assert.Equal(t, domain.TransactionStatusFailed, env.txnStatus(t, txn.ID))

		// A success that arrives out of order is dropped.
		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:   "evt-dep-fail-2",
			EventType: domain.WebhookEventDepositCompleted,
			Reference: "dep-fail-1",
		}))
		assert.Equal(t, domain.TransactionStatusFailed, env.txnStatus(t, txn.ID))
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("callback for wrong transaction type is rejected", func(t *testing.T) {
		alice, a := env.seedWallet(t, "cb-type@test.com", domain.KYCTierFull, 0)
		_, err := svc.InitiateDeposit(ctx, DepositRequest{UserID: alice.ID, WalletID: a.ID, Amount: 100, Reference: "cb-type-1"})
		require.NoError(t, err)

		err = svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:   "evt-cb-type",
			EventType: domain.WebhookEventWithdrawalCompleted,
			Reference: "cb-type-1",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("bill payment reverses when biller fails", func(t *testing.T) {
		alice, a := env.seedWallet(t, "bill@test.com", domain.KYCTierFull, 5000)

		paid, err := svc.PayBill(ctx, BillRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 1000, Reference: "bill-ok-1",
			Biller: "ikeja-electric", Category: "electricity", CustomerRef: "45001234", Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusCompleted, paid.Status)
		require.NotNil(t, paid.ProviderRef)
		assert.Equal(t, int64(4000), testutil.GetWalletBalance(t, db, a.ID))

		env.provider.mu.Lock()
		env.provider.vendErr = domain.ErrProviderError
		env.provider.mu.Unlock()
		t.Cleanup(func() {
			env.provider.mu.Lock()
			env.provider.vendErr = nil
			env.provider.mu.Unlock()
		})

		_, err = svc.PayBill(ctx, BillRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 1000, Reference: "bill-fail-1",
			Biller: "ikeja-electric", CustomerRef: "45001234", Credentials: pin,
		})
		assert.ErrorIs(t, err, domain.ErrProviderError)
		assert.Equal(t, int64(4000), testutil.GetWalletBalance(t, db, a.ID))

		failed, err := svc.transactions.GetByReference(ctx, "bill-fail-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusReversed, failed.Status)
	})

	t.Run("loan disbursement and repayment", func(t *testing.T) {
		alice, a := env.seedWallet(t, "loan@test.com", domain.KYCTierFull, 0)
		lending := testutil.SystemWallet(t, domain.WalletTypeLending, domain.CurrencyNGN)
		lendingBefore := testutil.GetWalletBalance(t, db, lending)

		loan, txn, err := svc.DisburseLoan(ctx, DisburseLoanRequest{
			WalletID: a.ID, Amount: 20000, Reference: "loan-1", AdminID: uuid.New(),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusActive, loan.Status)
		assert.Equal(t, domain.TransactionTypeLoanDisbursement, txn.Type)
		assert.Equal(t, int64(20000), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, lendingBefore-20000, testutil.GetWalletBalance(t, db, lending))

		_, _, err = svc.RepayLoan(ctx, RepayLoanRequest{UserID: alice.ID, LoanID: loan.ID, Amount: 25000, Credentials: pin})
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve)

		partial, _, err := svc.RepayLoan(ctx, RepayLoanRequest{UserID: alice.ID, LoanID: loan.ID, Amount: 5000, Reference: "repay-1", Credentials: pin})
		require.NoError(t, err)
		assert.Equal(t, int64(15000), partial.Outstanding)

		repaid, _, err := svc.RepayLoan(ctx, RepayLoanRequest{UserID: alice.ID, LoanID: loan.ID, Amount: 15000, Reference: "repay-2", Credentials: pin})
		require.NoError(t, err)
		assert.Equal(t, int64(0), repaid.Outstanding)
		assert.Equal(t, domain.LoanStatusRepaid, repaid.Status)
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, a.ID))
		assert.Equal(t, lendingBefore, testutil.GetWalletBalance(t, db, lending))

		_, _, err = svc.RepayLoan(ctx, RepayLoanRequest{UserID: alice.ID, LoanID: loan.ID, Amount: 100, Reference: "repay-3", Credentials: pin})
		assert.ErrorIs(t, err, domain.ErrLoanNotActive)
	})

	t.Run("investment liquidation before and at maturity", func(t *testing.T) {
		alice, a := env.seedWallet(t, "inv@test.com", domain.KYCTierFull, 200000)
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return start }
		t.Cleanup(func() { svc.now = func() time.Time { return time.Now().UTC() } })

		early, _, err := svc.CreateInvestment(ctx, InvestmentRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 100000, DurationDays: 365, Reference: "inv-early", Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1500), early.RateBPS)

		held, _, err := svc.CreateInvestment(ctx, InvestmentRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 100000, DurationDays: 365, Reference: "inv-mature", Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), testutil.GetWalletBalance(t, db, a.ID))

		svc.now = func() time.Time { return start.AddDate(0, 0, 73) }
		liquidated, txn, err := svc.LiquidateInvestment(ctx, LiquidateRequest{UserID: alice.ID, InvestmentID: early.ID, Credentials: pin})
		require.NoError(t, err)
		assert.Equal(t, domain.InvestmentStatusLiquidated, liquidated.Status)
		assert.Equal(t, domain.TransactionTypeInvestmentReturn, txn.Type)
		// 100000 at 15% for 73 days accrues 3000; a quarter is forfeited.
		assert.Equal(t, int64(102250), txn.Amount)

		again, replayTxn, err := svc.LiquidateInvestment(ctx, LiquidateRequest{UserID: alice.ID, InvestmentID: early.ID, Credentials: pin})
		require.NoError(t, err)
		assert.Equal(t, txn.ID, replayTxn.ID)
		assert.Equal(t, liquidated.ID, again.ID)

		svc.now = func() time.Time { return start.AddDate(0, 0, 365) }
		_, matured, err := svc.LiquidateInvestment(ctx, LiquidateRequest{UserID: alice.ID, InvestmentID: held.ID, Credentials: pin})
		require.NoError(t, err)
		assert.Equal(t, int64(115000), matured.Amount)
		assert.Equal(t, int64(217250), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("investment duration out of range", func(t *testing.T) {
		alice, a := env.seedWallet(t, "inv-bad@test.com", domain.KYCTierFull, 1000)
		_, _, err := svc.CreateInvestment(ctx, InvestmentRequest{
			UserID: alice.ID, WalletID: a.ID, Amount: 500, DurationDays: 7, Credentials: pin,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.Equal(t, int64(1000), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("card funding holds then settles", func(t *testing.T) {
		alice, a := env.seedWallet(t, "card@test.com", domain.KYCTierFull, 5000)

		h, err := svc.FundCard(ctx, CardFundingRequest{
			UserID: alice.ID, WalletID: a.ID, CardID: "card_123", Amount: 2000, Reference: "cf-1", Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.HoldReasonCardFunding, h.Reason)

		_, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(2000), held)

		require.NoError(t, svc.ProcessProviderEvent(ctx, domain.ProviderEvent{
			EventID:     "evt-cf-1",
			EventType:   domain.WebhookEventCardFundingSettled,
			ProviderRef: "net-cf-1",
			Reference:   "cf-1",
		}))

		balance, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(3000), balance)
		assert.Equal(t, int64(0), held)

		captured, err := svc.holds.Get(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusCaptured, captured.Status)

		second, err := svc.FundCard(ctx, CardFundingRequest{
			UserID: alice.ID, WalletID: a.ID, CardID: "card_123", Amount: 1000, Reference: "cf-2", Credentials: pin,
		})
		require.NoError(t, err)
		released, err := svc.UnfundCard(ctx, alice.ID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusReleased, released.Status)
		_, held, _ = testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(0), held)
	})

	t.Run("card funding checks credentials and limits without a fee", func(t *testing.T) {
		alice, a := env.seedWallet(t, "card-chk@test.com", domain.KYCTierFull, 5000)
		none, n := env.seedWallet(t, "card-nokyc@test.com", domain.KYCTierNone, 5000)

		_, err := svc.FundCard(ctx, CardFundingRequest{
			UserID: alice.ID, WalletID: a.ID, CardID: "card_9", Amount: 1000, Credentials: authz.Credentials{PIN: "9999"},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidPin)
		_, err = svc.FundCard(ctx, CardFundingRequest{
			UserID: alice.ID, WalletID: a.ID, CardID: "card_9", Amount: 0, Credentials: pin,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = svc.FundCard(ctx, CardFundingRequest{
			UserID: none.ID, WalletID: n.ID, CardID: "card_9", Amount: 1000, Credentials: pin,
		})
		assert.ErrorIs(t, err, domain.ErrKYCRequired)

		_, held, _ := testutil.GetWalletBalances(t, db, a.ID)
		assert.Equal(t, int64(0), held)

		h, err := svc.FundCard(ctx, CardFundingRequest{
			UserID: alice.ID, WalletID: a.ID, CardID: "card_9", Amount: 1000, Reference: "cf-chk", Credentials: pin,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1000), h.Amount)

		txn, err := svc.SettleCardFunding(ctx, "cf-chk", "net-cf-chk")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), txn.Amount)
		assert.Equal(t, int64(0), txn.Fee)
		assert.Equal(t, int64(4000), testutil.GetWalletBalance(t, db, a.ID))
	})

	t.Run("dispute refund reverses the transfer", func(t *testing.T) {
		alice, a := env.seedWallet(t, "disp-a@test.com", domain.KYCTierFull, 10000)
		_, b := env.seedWallet(t, "disp-b@test.com", domain.KYCTierFull, 0)

		res, err := svc.Transfer(ctx, TransferRequest{
			UserID: alice.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 3000, Reference: "disp-trf-1", Credentials: pin,
		})
		require.NoError(t, err)

		d, err := svc.CreateDispute(ctx, DisputeRequest{
			UserID: alice.ID, TransactionID: res.Transaction.ID, Type: domain.DisputeTypeUnauthorized, Reason: "not me",
		})
		require.NoError(t, err)
		require.NotNil(t, d.HoldID)
		_, held, _ := testutil.GetWalletBalances(t, db, b.ID)
		assert.Equal(t, int64(3000), held)

		_, err = svc.CreateDispute(ctx, DisputeRequest{
			UserID: alice.ID, TransactionID: res.Transaction.ID, Type: domain.DisputeTypeUnauthorized,
		})
		assert.ErrorIs(t, err, domain.ErrDisputeExists)

		investigating, err := svc.InvestigateDispute(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusInvestigating, investigating.Status)

		resolved, err := svc.ResolveDispute(ctx, ResolveDisputeRequest{
			DisputeID: d.ID, Refund: true, Resolution: "confirmed fraud", AdminID: uuid.New(),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
		require.NotNil(t, resolved.ReversalTransactionID)

		assert.Equal(t, int64(10000), testutil.GetWalletBalance(t, db, a.ID))
		balance, held, _ := testutil.GetWalletBalances(t, db, b.ID)
		assert.Equal(t, int64(0), balance)
		assert.Equal(t, int64(0), held)
		assert.Equal(t, domain.TransactionStatusReversed, env.txnStatus(t, res.Transaction.ID))

		_, err = svc.ResolveDispute(ctx, ResolveDisputeRequest{DisputeID: d.ID, Refund: true, AdminID: uuid.New()})
		assert.ErrorIs(t, err, domain.ErrDisputeClosed)
	})

	t.Run("dispute rejection releases the hold", func(t *testing.T) {
		alice, a := env.seedWallet(t, "rejd-a@test.com", domain.KYCTierFull, 10000)
		_, b := env.seedWallet(t, "rejd-b@test.com", domain.KYCTierFull, 0)

		res, err := svc.Transfer(ctx, TransferRequest{
			UserID: alice.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 3000, Reference: "rejd-trf-1", Credentials: pin,
		})
		require.NoError(t, err)

		d, err := svc.CreateDispute(ctx, DisputeRequest{
			UserID: alice.ID, TransactionID: res.Transaction.ID, Type: domain.DisputeTypeNotReceived,
		})
		require.NoError(t, err)

		rejected, err := svc.ResolveDispute(ctx, ResolveDisputeRequest{
			DisputeID: d.ID, Refund: false, Resolution: "goods delivered", AdminID: uuid.New(),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusRejected, rejected.Status)

		balance, held, _ := testutil.GetWalletBalances(t, db, b.ID)
		assert.Equal(t, int64(3000), balance)
		assert.Equal(t, int64(0), held)
		assert.Equal(t, domain.TransactionStatusCompleted, env.txnStatus(t, res.Transaction.ID))
	})

	t.Run("transaction visibility and statistics", func(t *testing.T) {
		alice, a := env.seedWallet(t, "vis-a@test.com", domain.KYCTierFull, 10000)
		bob, b := env.seedWallet(t, "vis-b@test.com", domain.KYCTierFull, 0)
		eve, _ := env.seedWallet(t, "vis-e@test.com", domain.KYCTierFull, 0)

		res, err := svc.Transfer(ctx, TransferRequest{
			UserID: alice.ID, FromWalletID: a.ID, ToWalletID: b.ID, Amount: 1000, Credentials: pin,
		})
		require.NoError(t, err)

		_, err = svc.GetTransaction(ctx, bob.ID, res.Transaction.ID)
		require.NoError(t, err)
		_, err = svc.GetTransaction(ctx, eve.ID, res.Transaction.ID)
		assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

		txns, total, err := svc.ListTransactions(ctx, domain.TransactionFilter{UserID: alice.ID, WalletID: &a.ID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, txns, 1)

		_, _, err = svc.ListTransactions(ctx, domain.TransactionFilter{UserID: eve.ID, WalletID: &a.ID, Limit: 10})
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)

		stats, err := svc.Statistics(ctx, domain.TransactionFilter{UserID: alice.ID, WalletID: &a.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalTransactions)
		assert.Equal(t, int64(1000), stats.TotalAmount)
		assert.Equal(t, int64(50), stats.TotalFees)
	})
}
