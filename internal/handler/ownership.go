package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
)

func userFromContext(r *http.Request) (uuid.UUID, *AppError) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, ErrMissingToken
	}
	return userID, nil
}

// walletFromPath returns the caller and the {id} wallet. Ownership is checked
// by the service, which answers wallet_not_found for other users' wallets.
func walletFromPath(r *http.Request) (uuid.UUID, uuid.UUID, *AppError) {
	userID, appErr := userFromContext(r)
	if appErr != nil {
		return uuid.Nil, uuid.Nil, appErr
	}
	walletID, ok := pathUUID(r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, ErrWalletNotFound
	}
	return userID, walletID, nil
}
