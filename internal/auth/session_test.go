package auth

import (
	"context"
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

func TestSessionService(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := NewSessionService(db,
		repository.NewUserRepository(db),
		repository.NewRefreshTokenRepository(db),
		SessionConfig{
			Secret:     testSecret,
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			BcryptCost: bcrypt.MinCost,
		},
	)

	t.Run("register issues a session", func(t *testing.T) {
		s, err := svc.Register(ctx, "Ada@Test.com", "Ada", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, "ada@test.com", s.User.Email)
		assert.Equal(t, domain.RoleUser, s.User.Role)
		assert.NotEmpty(t, s.RefreshToken)

		claims, err := ValidateToken(s.AccessToken, testSecret)
		require.NoError(t, err)
		assert.Equal(t, s.User.ID, claims.UserID)
	})

	t.Run("register rejects duplicates and bad input", func(t *testing.T) {
		_, err := svc.Register(ctx, "ada@test.com", "Ada again", "correct-horse")
		assert.ErrorIs(t, err, domain.ErrEmailTaken)

		_, err = svc.Register(ctx, "not-an-email", "X", "correct-horse")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		_, err = svc.Register(ctx, "short@test.com", "X", "short")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("login", func(t *testing.T) {
		_, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		_, err = svc.Login(ctx, "ada@test.com", "wrong")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

		_, err = svc.Login(ctx, "nobody@test.com", "correct-horse")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})

	t.Run("refresh rotates the token", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		next, err := svc.Refresh(ctx, s.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, s.RefreshToken, next.RefreshToken)

		_, err = svc.Refresh(ctx, next.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("reusing a rotated token revokes every session", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)
		other, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		rotated, err := svc.Refresh(ctx, s.RefreshToken)
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

		_, err = svc.Refresh(ctx, rotated.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
		_, err = svc.Refresh(ctx, other.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})

	t.Run("concurrent refresh rotates once", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			oks int
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Refresh(ctx, s.RefreshToken); err == nil {
					mu.Lock()
					oks++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, oks)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
		defer func() { svc.now = func() time.Time { return time.Now().UTC() } }()

		_, err = svc.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})

	t.Run("logout revokes", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@test.com", "correct-horse")
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx, s.RefreshToken))
		require.NoError(t, svc.Logout(ctx, "never-issued"))

		_, err = svc.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

		_, err = svc.Refresh(ctx, "never-issued")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})
}
