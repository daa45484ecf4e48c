// Package authz gates debits behind a wallet PIN or a registered biometric
// device, and locks a wallet's debit capability after repeated failures.
package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

const defaultDeviceTTL = 90 * 24 * time.Hour

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// AttemptStore counts authorization attempts per wallet and reports lockouts.
type AttemptStore interface {
	// Begin counts an attempt before its credential is compared. A returned
	// attempt with LockedUntil set must be refused without comparing.
	Begin(ctx context.Context, walletID uuid.UUID, now time.Time) (*domain.PinAttempt, error)
	// Lock starts the cooldown after a failed final attempt.
	Lock(ctx context.Context, walletID uuid.UUID, now time.Time) (time.Time, error)
	Reset(ctx context.Context, walletID uuid.UUID) error
	LockedUntil(ctx context.Context, walletID uuid.UUID, now time.Time) (*time.Time, error)
	Failures(ctx context.Context, walletID uuid.UUID, now time.Time) (int, error)
}

type walletRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	SetPinHash(ctx context.Context, id uuid.UUID, hash string) error
	SetPinHashIfUnset(ctx context.Context, id uuid.UUID, hash string) (bool, error)
	SetBiometricEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

type deviceRepo interface {
	Register(ctx context.Context, d *domain.BiometricDevice) error
	GetActive(ctx context.Context, walletID uuid.UUID, deviceID string) (*domain.BiometricDevice, error)
	Revoke(ctx context.Context, walletID uuid.UUID, deviceID string) error
	CountActive(ctx context.Context, walletID uuid.UUID) (int, error)
}

// Credentials carry either a PIN or a biometric token with the device that
// holds it. A PIN wins when both are present.
type Credentials struct {
	PIN            string
	BiometricToken string
	DeviceID       string
}

type Gate struct {
	wallets    walletRepo
	devices    deviceRepo
	attempts   AttemptStore
	bcryptCost int
	deviceTTL  time.Duration
	now        func() time.Time
}

type Option func(*Gate)

// WithBcryptCost lowers the hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(g *Gate) { g.bcryptCost = cost }
}

func WithDeviceTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.deviceTTL = ttl }
}

func NewGate(wallets walletRepo, devices deviceRepo, attempts AttemptStore, opts ...Option) *Gate {
	g := &Gate{
		wallets:    wallets,
		devices:    devices,
		attempts:   attempts,
		bcryptCost: bcrypt.DefaultCost,
		deviceTTL:  defaultDeviceTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func validatePin(pin string) error {
	if !pinPattern.MatchString(pin) {
		return domain.NewValidationError("pin", "must be 4 to 6 digits")
	}
	return nil
}

// SetPin stores the wallet's first PIN. It fails with ErrPinAlreadySet when
// a PIN exists; use ChangePin instead.
func (g *Gate) SetPin(ctx context.Context, walletID uuid.UUID, pin string) error {
	if err := validatePin(pin); err != nil {
		return fmt.Errorf("SetPin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), g.bcryptCost)
	if err != nil {
		return fmt.Errorf("SetPin: hash: %w", err)
	}

	stored, err := g.wallets.SetPinHashIfUnset(ctx, walletID, string(hash))
	if err != nil {
		return fmt.Errorf("SetPin: %w", err)
	}
	if !stored {
		if _, err := g.wallets.GetByID(ctx, walletID); err != nil {
			return fmt.Errorf("SetPin: %w", err)
		}
		return fmt.Errorf("SetPin: %w", domain.ErrPinAlreadySet)
	}

	logging.FromContext(ctx).Info("wallet pin set", "wallet_id", walletID)
	return nil
}

// ChangePin replaces the PIN after verifying the old one. A wrong old PIN
// counts toward the lockout.
func (g *Gate) ChangePin(ctx context.Context, walletID uuid.UUID, oldPin, newPin string) error {
	if err := validatePin(newPin); err != nil {
		return fmt.Errorf("ChangePin: %w", err)
	}
	if err := g.Authorize(ctx, walletID, Credentials{PIN: oldPin}); err != nil {
		return fmt.Errorf("ChangePin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPin), g.bcryptCost)
	if err != nil {
		return fmt.Errorf("ChangePin: hash: %w", err)
	}
	if err := g.wallets.SetPinHash(ctx, walletID, string(hash)); err != nil {
		return fmt.Errorf("ChangePin: %w", err)
	}

	logging.FromContext(ctx).Info("wallet pin changed", "wallet_id", walletID)
	return nil
}

// VerifyPin reports whether pin matches the wallet's PIN. A mismatch is
// (false, nil) and is recorded as a failure; a locked wallet is an error.
func (g *Gate) VerifyPin(ctx context.Context, walletID uuid.UUID, pin string) (bool, error) {
	err := g.Authorize(ctx, walletID, Credentials{PIN: pin})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrInvalidPin):
		return false, nil
	default:
		return false, fmt.Errorf("VerifyPin: %w", err)
	}
}

// Authorize checks creds against the wallet before a debit. It fails closed:
// anything other than a matching PIN or a usable device token is rejected.
// The attempt is counted before the credential is compared, so parallel
// guesses cannot outrun the lockout.
func (g *Gate) Authorize(ctx context.Context, walletID uuid.UUID, creds Credentials) error {
	now := g.now()

	w, err := g.wallets.GetByID(ctx, walletID)
	if err != nil {
		return fmt.Errorf("Authorize: %w", err)
	}

	usePin := creds.PIN != ""
	switch {
	case usePin && !w.HasPin():
		if err := g.refuseIfLocked(ctx, walletID, now); err != nil {
			return err
		}
		return fmt.Errorf("Authorize: %w", domain.ErrPinNotSet)
	case !usePin && (creds.BiometricToken == "" || creds.DeviceID == ""):
		if err := g.refuseIfLocked(ctx, walletID, now); err != nil {
			return err
		}
		return fmt.Errorf("Authorize: %w", domain.ErrAuthorizationFailed)
	}

	attempt, err := g.attempts.Begin(ctx, walletID, now)
	if err != nil {
		return fmt.Errorf("Authorize: %w", err)
	}
	if attempt.LockedUntil != nil {
		return fmt.Errorf("Authorize: %w", &domain.WalletLockedError{Until: *attempt.LockedUntil})
	}

	if usePin {
		if bcrypt.CompareHashAndPassword([]byte(*w.PinHash), []byte(creds.PIN)) != nil {
			return g.fail(ctx, walletID, now, attempt, domain.ErrInvalidPin)
		}
	} else if !w.BiometricEnabled || !g.deviceMatches(ctx, walletID, creds, now) {
		return g.fail(ctx, walletID, now, attempt, domain.ErrAuthorizationFailed)
	}

	if err := g.attempts.Reset(ctx, walletID); err != nil {
		return fmt.Errorf("Authorize: %w", err)
	}
	return nil
}

func (g *Gate) refuseIfLocked(ctx context.Context, walletID uuid.UUID, now time.Time) error {
	until, err := g.attempts.LockedUntil(ctx, walletID, now)
	if err != nil {
		return fmt.Errorf("Authorize: %w", err)
	}
	if until != nil {
		return fmt.Errorf("Authorize: %w", &domain.WalletLockedError{Until: *until})
	}
	return nil
}

// deviceMatches is false on any lookup error.
func (g *Gate) deviceMatches(ctx context.Context, walletID uuid.UUID, creds Credentials, now time.Time) bool {
	d, err := g.devices.GetActive(ctx, walletID, creds.DeviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logging.FromContext(ctx).Error("biometric device lookup failed", "wallet_id", walletID, "error", err)
		}
		return false
	}
	if !d.Usable(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashToken(creds.BiometricToken)), []byte(d.TokenHash)) == 1
}

func (g *Gate) fail(ctx context.Context, walletID uuid.UUID, now time.Time, attempt *domain.PinAttempt, cause error) error {
	metrics.PinFailures.Inc()
	logger := logging.FromContext(ctx)

	if attempt.Final {
		until, err := g.attempts.Lock(ctx, walletID, now)
		if err != nil {
			return fmt.Errorf("Authorize: lock: %w", err)
		}
		metrics.PinLockouts.Inc()
		logger.Warn("wallet locked after repeated authorization failures",
			"wallet_id", walletID, "failures", attempt.Count, "locked_until", until)
		return fmt.Errorf("Authorize: %w: %w", cause, &domain.WalletLockedError{Until: until})
	}

	logger.Info("wallet authorization failed", "wallet_id", walletID, "failures", attempt.Count, "cause", cause)
	return fmt.Errorf("Authorize: %w", cause)
}

// RegisterDevice pairs deviceID with the wallet for biometric authorization
// and returns the token the device presents. Only the token's hash is kept.
// Registering requires the wallet PIN.
func (g *Gate) RegisterDevice(ctx context.Context, walletID uuid.UUID, deviceID, pin string) (string, *domain.BiometricDevice, error) {
	if deviceID == "" {
		return "", nil, fmt.Errorf("RegisterDevice: %w", domain.NewValidationError("device_id", "is required"))
	}
	if err := g.Authorize(ctx, walletID, Credentials{PIN: pin}); err != nil {
		return "", nil, fmt.Errorf("RegisterDevice: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return "", nil, fmt.Errorf("RegisterDevice: %w", err)
	}

	now := g.now()
	d := &domain.BiometricDevice{
		ID:        uuid.New(),
		WalletID:  walletID,
		DeviceID:  deviceID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(g.deviceTTL),
		CreatedAt: now,
	}
	if err := g.devices.Register(ctx, d); err != nil {
		return "", nil, fmt.Errorf("RegisterDevice: %w", err)
	}

	logging.FromContext(ctx).Info("biometric device registered", "wallet_id", walletID, "device_id", deviceID)
	return token, d, nil
}

func (g *Gate) RevokeDevice(ctx context.Context, walletID uuid.UUID, deviceID string) error {
	if err := g.devices.Revoke(ctx, walletID, deviceID); err != nil {
		return fmt.Errorf("RevokeDevice: %w", err)
	}
	logging.FromContext(ctx).Info("biometric device revoked", "wallet_id", walletID, "device_id", deviceID)
	return nil
}

func (g *Gate) EnableBiometric(ctx context.Context, walletID uuid.UUID, pin string) error {
	if err := g.Authorize(ctx, walletID, Credentials{PIN: pin}); err != nil {
		return fmt.Errorf("EnableBiometric: %w", err)
	}
	if err := g.wallets.SetBiometricEnabled(ctx, walletID, true); err != nil {
		return fmt.Errorf("EnableBiometric: %w", err)
	}
	return nil
}

func (g *Gate) DisableBiometric(ctx context.Context, walletID uuid.UUID) error {
	if err := g.wallets.SetBiometricEnabled(ctx, walletID, false); err != nil {
		return fmt.Errorf("DisableBiometric: %w", err)
	}
	return nil
}

func (g *Gate) SecurityStatus(ctx context.Context, walletID uuid.UUID) (*domain.SecurityStatus, error) {
	w, err := g.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("SecurityStatus: %w", err)
	}

	now := g.now()
	failures, err := g.attempts.Failures(ctx, walletID, now)
	if err != nil {
		return nil, fmt.Errorf("SecurityStatus: %w", err)
	}
	until, err := g.attempts.LockedUntil(ctx, walletID, now)
	if err != nil {
		return nil, fmt.Errorf("SecurityStatus: %w", err)
	}
	devices, err := g.devices.CountActive(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("SecurityStatus: %w", err)
	}

	return &domain.SecurityStatus{
		WalletID:         walletID,
		PinSet:           w.HasPin(),
		BiometricEnabled: w.BiometricEnabled,
		FailedAttempts:   failures,
		LockedUntil:      until,
		Devices:          devices,
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("newToken: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
