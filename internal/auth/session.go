package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const (
	refreshTokenBytes = 32
	minPasswordLength = 8
)

type userStore interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type refreshTokenStore interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.RefreshToken) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, tokenHash string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error
}

// Session is an access token plus the opaque refresh token that renews it.
type Session struct {
	User             *domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type SessionConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// SessionService issues and rotates sessions. Refresh tokens are stored as
// SHA-256 hashes and are single use.
type SessionService struct {
	db     *sql.DB
	users  userStore
	tokens refreshTokenStore
	cfg    SessionConfig
	now    func() time.Time
}

func NewSessionService(db *sql.DB, users userStore, tokens refreshTokenStore, cfg SessionConfig) *SessionService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &SessionService{
		db:     db,
		users:  users,
		tokens: tokens,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) Register(ctx context.Context, email, name, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("Register: %w", domain.NewValidationError("email", "must be a valid email address"))
	}
	if name == "" {
		return nil, fmt.Errorf("Register: %w", domain.NewValidationError("name", "is required"))
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("Register: %w",
			domain.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength)))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	u := &domain.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(email),
		Name:         name,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		KYCTier:      domain.KYCTierNone,
		Status:       domain.UserStatusActive,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	logging.FromContext(ctx).Info("user registered", "user_id", u.ID)
	return s.issue(ctx, u)
}

// Login checks credentials and opens a new session. Unknown emails and wrong
// passwords fail the same way.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Login: %w", domain.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("Login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("Login: %w", domain.ErrInvalidCredentials)
	}
	if u.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("Login: %w", domain.ErrForbidden)
	}

	return s.issue(ctx, u)
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated or revoked revokes every session of its user.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("Refresh: %w", domain.ErrInvalidCredentials)
	}
	now := s.now()

	var (
		userID uuid.UUID
		reused bool
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.tokens.GetForUpdate(ctx, tx, hashToken(refreshToken))
		if err != nil {
			return err
		}
		userID = t.UserID
		if t.RevokedAt != nil {
			reused = true
			return s.tokens.RevokeAllForUser(ctx, tx, t.UserID)
		}
		if !t.Usable(now) {
			return domain.ErrInvalidCredentials
		}
		return s.tokens.Revoke(ctx, tx, t.ID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}
	if reused {
		logging.FromContext(ctx).Warn("refresh token reuse detected, sessions revoked", "user_id", userID)
		return nil, fmt.Errorf("Refresh: %w", domain.ErrInvalidCredentials)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}
	if u.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("Refresh: %w", domain.ErrForbidden)
	}
	return s.issue(ctx, u)
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.tokens.RevokeByHash(ctx, hashToken(refreshToken)); err != nil {
		return fmt.Errorf("Logout: %w", err)
	}
	return nil
}

func (s *SessionService) issue(ctx context.Context, u *domain.User) (*Session, error) {
	now := s.now()
	access, err := GenerateToken(u.ID, u.Email, u.Role, s.cfg.Secret, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}

	raw, err := newOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}
	rt := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    u.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}
	err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.tokens.Create(ctx, tx, rt)
	})
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}

	return &Session{
		User:             u,
		AccessToken:      access,
		AccessExpiresAt:  now.Add(s.cfg.AccessTTL),
		RefreshToken:     raw,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

func newOpaqueToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("newOpaqueToken: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
