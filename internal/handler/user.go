package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type userStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateKYCTier(ctx context.Context, id uuid.UUID, tier domain.KYCTier) error
}

type UserHandler struct {
	users userStore
}

func NewUserHandler(users userStore) *UserHandler {
	return &UserHandler{users: users}
}

type kycTierRequest struct {
	Tier *int `json:"tier" validate:"required,gte=0,lte=3"`
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to get user", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toUserDTO(user))
}

// UpdateKYCTier records the outcome of identity verification. Admin only.
func (h *UserHandler) UpdateKYCTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	var req kycTierRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.users.UpdateKYCTier(r.Context(), userID, domain.KYCTier(*req.Tier)); err != nil {
		RespondDomainError(w, err)
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("kyc tier updated", "user_id", userID, "tier", *req.Tier)
	RespondSuccess(w, http.StatusOK, toUserDTO(user))
}
