package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type pinGate interface {
	SetPin(ctx context.Context, walletID uuid.UUID, pin string) error
	ChangePin(ctx context.Context, walletID uuid.UUID, oldPin, newPin string) error
	VerifyPin(ctx context.Context, walletID uuid.UUID, pin string) (bool, error)
	RegisterDevice(ctx context.Context, walletID uuid.UUID, deviceID, pin string) (string, *domain.BiometricDevice, error)
	RevokeDevice(ctx context.Context, walletID uuid.UUID, deviceID string) error
	EnableBiometric(ctx context.Context, walletID uuid.UUID, pin string) error
	DisableBiometric(ctx context.Context, walletID uuid.UUID) error
	SecurityStatus(ctx context.Context, walletID uuid.UUID) (*domain.SecurityStatus, error)
}

type walletOwner interface {
	GetWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
}

type SecurityHandler struct {
	gate    pinGate
	wallets walletOwner
}

func NewSecurityHandler(gate pinGate, wallets walletOwner) *SecurityHandler {
	return &SecurityHandler{gate: gate, wallets: wallets}
}

type setPinRequest struct {
	Pin string `json:"pin" validate:"required"`
}

type changePinRequest struct {
	OldPin string `json:"old_pin" validate:"required"`
	NewPin string `json:"new_pin" validate:"required,nefield=OldPin"`
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Pin      string `json:"pin" validate:"required"`
}

type securityStatusDTO struct {
	WalletID         uuid.UUID  `json:"wallet_id"`
	PinSet           bool       `json:"pin_set"`
	BiometricEnabled bool       `json:"biometric_enabled"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	Devices          int        `json:"devices"`
}

type deviceDTO struct {
	DeviceID       string    `json:"device_id"`
	BiometricToken string    `json:"biometric_token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ownedWallet resolves the {id} wallet and checks it belongs to the caller.
func (h *SecurityHandler) ownedWallet(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return uuid.Nil, false
	}
	if _, err := h.wallets.GetWallet(r.Context(), userID, walletID); err != nil {
		RespondDomainError(w, err)
		return uuid.Nil, false
	}
	return walletID, true
}

func (h *SecurityHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req setPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.gate.SetPin(r.Context(), walletID, req.Pin); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, nil, "PIN set")
}

func (h *SecurityHandler) ChangePin(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req changePinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.gate.ChangePin(r.Context(), walletID, req.OldPin, req.NewPin); err != nil {
		logging.FromContext(r.Context()).Warn("pin change failed", "wallet_id", walletID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, nil, "PIN changed")
}

func (h *SecurityHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req setPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	valid, err := h.gate.VerifyPin(r.Context(), walletID, req.Pin)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *SecurityHandler) Status(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}

	s, err := h.gate.SecurityStatus(r.Context(), walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, securityStatusDTO{
		WalletID:         s.WalletID,
		PinSet:           s.PinSet,
		BiometricEnabled: s.BiometricEnabled,
		FailedAttempts:   s.FailedAttempts,
		LockedUntil:      s.LockedUntil,
		Devices:          s.Devices,
	})
}

// RegisterDevice returns the biometric token once. Only its hash is kept.
func (h *SecurityHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req registerDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, d, err := h.gate.RegisterDevice(r.Context(), walletID, req.DeviceID, req.Pin)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, deviceDTO{
		DeviceID:       d.DeviceID,
		BiometricToken: token,
		ExpiresAt:      d.ExpiresAt,
	})
}

func (h *SecurityHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}

	if err := h.gate.RevokeDevice(r.Context(), walletID, r.PathValue("deviceId")); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, nil, "Device revoked")
}

func (h *SecurityHandler) EnableBiometric(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req setPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.gate.EnableBiometric(r.Context(), walletID, req.Pin); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, nil, "Biometric authorization enabled")
}

func (h *SecurityHandler) DisableBiometric(w http.ResponseWriter, r *http.Request) {
	walletID, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}

	if err := h.gate.DisableBiometric(r.Context(), walletID); err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, nil, "Biometric authorization disabled")
}
