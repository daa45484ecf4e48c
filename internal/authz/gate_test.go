package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

var testPolicy = domain.LockoutPolicy{
	MaxAttempts: 3,
	Window:      15 * time.Minute,
	Cooldown:    30 * time.Minute,
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGate(db *sql.DB, attempts AttemptStore, clock *fakeClock) *Gate {
	g := NewGate(
		repository.NewWalletRepository(db),
		repository.NewBiometricDeviceRepository(db),
		attempts,
		WithBcryptCost(bcrypt.MinCost),
		WithDeviceTTL(24*time.Hour),
	)
	g.now = clock.Now
	return g
}

func TestValidatePin(t *testing.T) {
	tests := []struct {
		pin   string
		valid bool
	}{
		{"1234", true},
		{"123456", true},
		{"123", false},
		{"1234567", false},
		{"12a4", false},
		{"", false},
		{" 1234", false},
	}
	for _, tc := range tests {
		t.Run(tc.pin, func(t *testing.T) {
			err := validatePin(tc.pin)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			}
		})
	}
}

func TestGate_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	runGateTests(t, db, func() AttemptStore {
		return repository.NewPinAttemptRepository(db, testPolicy)
	})
}

func TestGate_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	rdb := testutil.SetupTestRedis(t)
	runGateTests(t, db, func() AttemptStore {
		return NewRedisAttemptStore(rdb, testPolicy)
	})
}

func runGateTests(t *testing.T, db *sql.DB, newStore func() AttemptStore) {
	ctx := context.Background()
	newWallet := func(t *testing.T) *domain.Wallet {
		user := testutil.SeedTestUser(t, db, t.Name()+"@test.com", "PIN", domain.KYCTierFull)
		return testutil.SeedTestWallet(t, db, user.ID, domain.CurrencyNGN, 10000)
	}

	t.Run("set pin once", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)

		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))
		assert.ErrorIs(t, g.SetPin(ctx, w.ID, "5678"), domain.ErrPinAlreadySet)

		ok, err := g.VerifyPin(ctx, w.ID, "1234")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = g.VerifyPin(ctx, w.ID, "5678")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("authorize without pin set", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)

		err := g.Authorize(ctx, w.ID, Credentials{PIN: "1234"})
		assert.ErrorIs(t, err, domain.ErrPinNotSet)
		err = g.Authorize(ctx, w.ID, Credentials{})
		assert.ErrorIs(t, err, domain.ErrAuthorizationFailed)
	})

	t.Run("lockout after repeated failures and cooldown", func(t *testing.T) {
		clock := &fakeClock{now: time.Now().UTC()}
		g := newTestGate(db, newStore(), clock)
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))

		for i := 0; i < testPolicy.MaxAttempts-1; i++ {
			err := g.Authorize(ctx, w.ID, Credentials{PIN: "0000"})
			require.ErrorIs(t, err, domain.ErrInvalidPin)
			require.NotErrorIs(t, err, domain.ErrWalletLocked)
		}

		err := g.Authorize(ctx, w.ID, Credentials{PIN: "0000"})
		require.ErrorIs(t, err, domain.ErrWalletLocked)
		var locked *domain.WalletLockedError
		require.True(t, errors.As(err, &locked))
		assert.WithinDuration(t, clock.Now().Add(testPolicy.Cooldown), locked.Until, time.Second)

		err = g.Authorize(ctx, w.ID, Credentials{PIN: "1234"})
		assert.ErrorIs(t, err, domain.ErrWalletLocked, "correct pin is rejected while locked")

		status, err := g.SecurityStatus(ctx, w.ID)
		require.NoError(t, err)
		assert.NotNil(t, status.LockedUntil)

		clock.Advance(testPolicy.Cooldown + time.Second)
		assert.NoError(t, g.Authorize(ctx, w.ID, Credentials{PIN: "1234"}))
	})

	t.Run("parallel guesses cannot outrun the lockout", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))

		const guesses = 20
		errs := make([]error, guesses)
		var wg sync.WaitGroup
		for i := range guesses {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = g.Authorize(ctx, w.ID, Credentials{PIN: fmt.Sprintf("%04d", 5000+i)})
			}()
		}
		wg.Wait()

		var compared int
		for _, err := range errs {
			require.Error(t, err)
			if errors.Is(err, domain.ErrInvalidPin) {
				compared++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrWalletLocked)
		}
		assert.Equal(t, testPolicy.MaxAttempts, compared, "only the window's attempts reach the PIN check")

		err := g.Authorize(ctx, w.ID, Credentials{PIN: "1234"})
		assert.ErrorIs(t, err, domain.ErrWalletLocked, "correct pin after the burst is still locked out")
	})

	t.Run("success resets failure count", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))

		for round := 0; round < 3; round++ {
			for i := 0; i < testPolicy.MaxAttempts-1; i++ {
				assert.ErrorIs(t, g.Authorize(ctx, w.ID, Credentials{PIN: "9999"}), domain.ErrInvalidPin)
			}
			require.NoError(t, g.Authorize(ctx, w.ID, Credentials{PIN: "1234"}))
		}

		status, err := g.SecurityStatus(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, status.FailedAttempts)
		assert.Nil(t, status.LockedUntil)
	})

	t.Run("change pin", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))

		assert.ErrorIs(t, g.ChangePin(ctx, w.ID, "1111", "4321"), domain.ErrInvalidPin)
		assert.ErrorIs(t, g.ChangePin(ctx, w.ID, "1234", "43"), domain.ErrInvalidRequest)
		require.NoError(t, g.ChangePin(ctx, w.ID, "1234", "4321"))

		ok, err := g.VerifyPin(ctx, w.ID, "4321")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("biometric fails closed", func(t *testing.T) {
		clock := &fakeClock{now: time.Now().UTC()}
		g := newTestGate(db, newStore(), clock)
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))

		token, _, err := g.RegisterDevice(ctx, w.ID, "phone-1", "1234")
		require.NoError(t, err)

		bio := Credentials{BiometricToken: token, DeviceID: "phone-1"}
		assert.ErrorIs(t, g.Authorize(ctx, w.ID, bio), domain.ErrAuthorizationFailed, "biometric disabled")

		require.NoError(t, g.EnableBiometric(ctx, w.ID, "1234"))
		assert.NoError(t, g.Authorize(ctx, w.ID, bio))

		cases := []Credentials{
			{BiometricToken: "not-the-token", DeviceID: "phone-1"},
			{BiometricToken: token, DeviceID: "phone-2"},
			{BiometricToken: token},
		}
		for _, c := range cases {
			assert.ErrorIs(t, g.Authorize(ctx, w.ID, c), domain.ErrAuthorizationFailed)
			require.NoError(t, g.Authorize(ctx, w.ID, Credentials{PIN: "1234"}))
		}

		status, err := g.SecurityStatus(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, status.BiometricEnabled)
		assert.Equal(t, 1, status.Devices)

		require.NoError(t, g.RevokeDevice(ctx, w.ID, "phone-1"))
		assert.ErrorIs(t, g.Authorize(ctx, w.ID, bio), domain.ErrAuthorizationFailed, "revoked")
		assert.ErrorIs(t, g.RevokeDevice(ctx, w.ID, "phone-1"), domain.ErrNotFound)
	})

	t.Run("expired biometric token", func(t *testing.T) {
		clock := &fakeClock{now: time.Now().UTC()}
		g := newTestGate(db, newStore(), clock)
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))
		require.NoError(t, g.EnableBiometric(ctx, w.ID, "1234"))

		token, _, err := g.RegisterDevice(ctx, w.ID, "tablet", "1234")
		require.NoError(t, err)

		clock.Advance(25 * time.Hour)
		err = g.Authorize(ctx, w.ID, Credentials{BiometricToken: token, DeviceID: "tablet"})
		assert.ErrorIs(t, err, domain.ErrAuthorizationFailed)
	})

	t.Run("re-registering a device replaces its token", func(t *testing.T) {
		g := newTestGate(db, newStore(), &fakeClock{now: time.Now().UTC()})
		w := newWallet(t)
		require.NoError(t, g.SetPin(ctx, w.ID, "1234"))
		require.NoError(t, g.EnableBiometric(ctx, w.ID, "1234"))

		old, _, err := g.RegisterDevice(ctx, w.ID, "watch", "1234")
		require.NoError(t, err)
		fresh, _, err := g.RegisterDevice(ctx, w.ID, "watch", "1234")
		require.NoError(t, err)

		assert.ErrorIs(t, g.Authorize(ctx, w.ID, Credentials{BiometricToken: old, DeviceID: "watch"}), domain.ErrAuthorizationFailed)
		assert.NoError(t, g.Authorize(ctx, w.ID, Credentials{BiometricToken: fresh, DeviceID: "watch"}))
	})
}
