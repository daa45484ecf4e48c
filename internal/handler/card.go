package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

type cardService interface {
	FundCard(ctx context.Context, req transaction.CardFundingRequest) (*domain.Hold, error)
	UnfundCard(ctx context.Context, userID, holdID uuid.UUID) (*domain.Hold, error)
}

type CardHandler struct {
	cards cardService
}

func NewCardHandler(cards cardService) *CardHandler {
	return &CardHandler{cards: cards}
}

type fundCardRequest struct {
	WalletID  string `json:"wallet_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=100"`
	credentialsRequest
}

// Fund reserves card funding as a hold. The provider's settlement callback
// captures it.
func (h *CardHandler) Fund(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	cardID := r.PathValue("cardId")
	var req fundCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	held, err := h.cards.FundCard(r.Context(), transaction.CardFundingRequest{
		UserID:      userID,
		WalletID:    uuid.MustParse(req.WalletID),
		CardID:      cardID,
		Amount:      req.Amount,
		Reference:   reference(r, req.Reference),
		Credentials: req.toCredentials(),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("card funding failed", "card_id", cardID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusAccepted, toHoldDTO(held), "Card funding is pending settlement")
}

func (h *CardHandler) Unfund(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	holdID, ok := pathUUID(r, "holdId")
	if !ok {
		RespondAppError(w, ErrHoldNotFound, nil)
		return
	}

	released, err := h.cards.UnfundCard(r.Context(), userID, holdID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toHoldDTO(released))
}
