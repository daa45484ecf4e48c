package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
)

type walletService interface {
	CreateWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency, name string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	ListWallets(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Wallet, int, error)
	RenameWallet(ctx context.Context, userID, walletID uuid.UUID, name string) (*domain.Wallet, error)
	SetDefault(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	ChangeStatus(ctx context.Context, userID, walletID uuid.UUID, status domain.WalletStatus) (*domain.Wallet, error)
	CloseWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error)
	Summary(ctx context.Context, userID uuid.UUID) ([]domain.WalletSummary, error)
	Balance(ctx context.Context, userID, walletID uuid.UUID) (*service.WalletBalance, error)
}

type holdManager interface {
	Place(ctx context.Context, req hold.PlaceRequest) (*domain.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID, cause string) (*domain.Hold, error)
	Get(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error)
	ListActive(ctx context.Context, walletID uuid.UUID) ([]domain.Hold, error)
}

type WalletHandler struct {
	wallets walletService
	holds   holdManager
}

func NewWalletHandler(wallets walletService, holds holdManager) *WalletHandler {
	return &WalletHandler{wallets: wallets, holds: holds}
}

type createWalletRequest struct {
	Currency string `json:"currency" validate:"required,currency"`
	Name     string `json:"name" validate:"max=60"`
}

type renameWalletRequest struct {
	Name string `json:"name" validate:"required,max=60"`
}

type walletStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active frozen"`
}

type placeHoldRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=100"`
	Note      string `json:"note" validate:"max=200"`
}

func (h *WalletHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req createWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wallet, err := h.wallets.CreateWallet(r.Context(), userID, domain.Currency(req.Currency), req.Name)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to create wallet", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toWalletDTO(wallet))
}

func (h *WalletHandler) List(w http.ResponseWriter, r *http.Request) {
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

	wallets, total, err := h.wallets.ListWallets(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list wallets", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]walletDTO, len(wallets))
	for i := range wallets {
		dtos[i] = toWalletDTO(&wallets[i])
	}
	RespondPage(w, dtos, page, total)
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), userID, walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *WalletHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req renameWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wallet, err := h.wallets.RenameWallet(r.Context(), userID, walletID, req.Name)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *WalletHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	wallet, err := h.wallets.SetDefault(r.Context(), userID, walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *WalletHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req walletStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wallet, err := h.wallets.ChangeStatus(r.Context(), userID, walletID, domain.WalletStatus(req.Status))
	if err != nil {
		logging.FromContext(r.Context()).Warn("wallet status change failed", "wallet_id", walletID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *WalletHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	wallet, err := h.wallets.CloseWallet(r.Context(), userID, walletID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("wallet close failed", "wallet_id", walletID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, toWalletDTO(wallet), "Wallet closed")
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	b, err := h.wallets.Balance(r.Context(), userID, walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toBalanceDTO(b))
}

func (h *WalletHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	summary, err := h.wallets.Summary(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to summarize wallets", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]walletSummaryDTO, len(summary))
	for i, s := range summary {
		dtos[i] = walletSummaryDTO{
			Currency:         string(s.Currency),
			WalletCount:      s.WalletCount,
			TotalBalance:     s.TotalBalance,
			AvailableBalance: s.AvailableBalance,
			HeldBalance:      s.HeldBalance,
		}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

// PlaceHold reserves funds on the caller's wallet. Holds placed here are
// manual; card, withdrawal and dispute holds come from their own workflows.
func (h *WalletHandler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var req placeHoldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.wallets.GetWallet(r.Context(), userID, walletID); err != nil {
		RespondDomainError(w, err)
		return
	}

	var meta []byte
	if req.Note != "" {
		meta, _ = json.Marshal(map[string]string{"note": req.Note})
	}
	placed, err := h.holds.Place(r.Context(), hold.PlaceRequest{
		WalletID:  walletID,
		Amount:    req.Amount,
		Reason:    domain.HoldReasonManual,
		Reference: reference(r, req.Reference),
		Metadata:  meta,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("hold placement failed", "wallet_id", walletID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toHoldDTO(placed))
}

func (h *WalletHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	holdID, ok := pathUUID(r, "holdId")
	if !ok {
		RespondAppError(w, ErrHoldNotFound, nil)
		return
	}
	if _, err := h.wallets.GetWallet(r.Context(), userID, walletID); err != nil {
		RespondDomainError(w, err)
		return
	}

	existing, err := h.holds.Get(r.Context(), holdID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if existing.WalletID != walletID {
		RespondAppError(w, ErrHoldNotFound, nil)
		return
	}
	if existing.Reason != domain.HoldReasonManual {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	released, err := h.holds.Release(r.Context(), holdID, "user:"+userID.String())
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toHoldDTO(released))
}

func (h *WalletHandler) ListHolds(w http.ResponseWriter, r *http.Request) {
	userID, walletID, appErr := walletFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if _, err := h.wallets.GetWallet(r.Context(), userID, walletID); err != nil {
		RespondDomainError(w, err)
		return
	}

	holds, err := h.holds.ListActive(r.Context(), walletID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]holdDTO, len(holds))
	for i := range holds {
		dtos[i] = toHoldDTO(&holds[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
