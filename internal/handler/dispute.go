package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

type disputeService interface {
	CreateDispute(ctx context.Context, req transaction.DisputeRequest) (*domain.Dispute, error)
	InvestigateDispute(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, error)
	ResolveDispute(ctx context.Context, req transaction.ResolveDisputeRequest) (*domain.Dispute, error)
	GetDispute(ctx context.Context, userID, disputeID uuid.UUID) (*domain.Dispute, error)
	ListDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Dispute, int, error)
}

type DisputeHandler struct {
	disputes disputeService
}

func NewDisputeHandler(disputes disputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

type createDisputeRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
	Type          string `json:"type" validate:"required,oneof=unauthorized not_received duplicate incorrect_amount other"`
	Reason        string `json:"reason" validate:"required,max=500"`
}

type resolveDisputeRequest struct {
	Refund     bool   `json:"refund"`
	Resolution string `json:"resolution" validate:"required,max=500"`
}

func (h *DisputeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req createDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.disputes.CreateDispute(r.Context(), transaction.DisputeRequest{
		UserID:        userID,
		TransactionID: uuid.MustParse(req.TransactionID),
		Type:          domain.DisputeType(req.Type),
		Reason:        req.Reason,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("dispute creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toDisputeDTO(d))
}

func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrDisputeNotFound, nil)
		return
	}

	d, err := h.disputes.GetDispute(r.Context(), userID, disputeID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}

func (h *DisputeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	page, fields := pageParams(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	disputes, total, err := h.disputes.ListDisputes(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]disputeDTO, len(disputes))
	for i := range disputes {
		dtos[i] = toDisputeDTO(&disputes[i])
	}
	RespondPage(w, dtos, page, total)
}

// Investigate and Resolve are admin only.
func (h *DisputeHandler) Investigate(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrDisputeNotFound, nil)
		return
	}

	d, err := h.disputes.InvestigateDispute(r.Context(), disputeID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}

func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	adminID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	disputeID, ok := pathUUID(r, "id")
	if !ok {
		RespondAppError(w, ErrDisputeNotFound, nil)
		return
	}
	var req resolveDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.disputes.ResolveDispute(r.Context(), transaction.ResolveDisputeRequest{
		DisputeID:  disputeID,
		Refund:     req.Refund,
		Resolution: req.Resolution,
		AdminID:    adminID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("dispute resolution failed", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}
