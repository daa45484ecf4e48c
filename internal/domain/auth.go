package domain

import (
	"time"

	"github.com/google/uuid"
)

// BiometricDevice pairs a device with the hash of the token it presents for
// biometric authorization on one wallet.
type BiometricDevice struct {
	ID        uuid.UUID
	WalletID  uuid.UUID
	DeviceID  string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (d *BiometricDevice) Usable(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}

type SecurityStatus struct {
	WalletID         uuid.UUID
	PinSet           bool
	BiometricEnabled bool
	FailedAttempts   int
	LockedUntil      *time.Time
	Devices          int
}

// LockoutPolicy locks a wallet's debit capability for Cooldown after
// MaxAttempts consecutive failures within Window.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Cooldown    time.Duration
}

// PinAttempt is an authorization attempt counted before the credential is
// compared. Final marks the last attempt the window allows; failing it locks
// the wallet. A non-nil LockedUntil means the attempt was refused.
type PinAttempt struct {
	Count       int
	Final       bool
	LockedUntil *time.Time
}
