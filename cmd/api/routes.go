package main

import (
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
	"github.com/josh-kwaku/wallet-ledger/internal/middleware"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type handlers struct {
	health       *handler.HealthHandler
	auth         *handler.AuthHandler
	users        *handler.UserHandler
	wallets      *handler.WalletHandler
	security     *handler.SecurityHandler
	transactions *handler.TransactionHandler
	cards        *handler.CardHandler
	disputes     *handler.DisputeHandler
	lending      *handler.LendingHandler
	webhooks     *handler.WebhookHandler
}

type middlewareFunc func(http.Handler) http.Handler

func chain(h http.Handler, mws ...middlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func newRouter(h handlers, jwtSecret string, idempotency *repository.IdempotencyRepository) http.Handler {
	mux := http.NewServeMux()

	authed := middlewareFunc(middleware.Auth(jwtSecret))
	idem := middlewareFunc(middleware.Idempotency(idempotency))
	admin := middlewareFunc(middleware.RequireRole(domain.RoleAdmin))

	handle := func(pattern string, fn http.HandlerFunc, mws ...middlewareFunc) {
		mux.Handle(pattern, metrics.HTTPMiddleware(pattern, chain(fn, mws...)))
	}

	mux.HandleFunc("GET /health", h.health.Liveness)
	mux.HandleFunc("GET /health/ready", h.health.Readiness)
	mux.Handle("GET /metrics", metrics.Handler())

	const v1 = "/api/v1"

	handle("POST "+v1+"/auth/register", h.auth.Register)
	handle("POST "+v1+"/auth/login", h.auth.Login)
	handle("POST "+v1+"/auth/refresh", h.auth.Refresh)
	handle("POST "+v1+"/auth/logout", h.auth.Logout)

	handle("POST "+v1+"/webhooks/provider", h.webhooks.ReceiveProviderWebhook)

	handle("GET "+v1+"/users/me", h.users.Me, authed)

	handle("POST "+v1+"/wallets", h.wallets.Create, authed, idem)
	handle("GET "+v1+"/wallets", h.wallets.List, authed)
	handle("GET "+v1+"/wallets/summary", h.wallets.Summary, authed)
	handle("GET "+v1+"/wallets/wallet/{id}", h.wallets.Get, authed)
	handle("PATCH "+v1+"/wallets/wallet/{id}", h.wallets.Rename, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/default", h.wallets.SetDefault, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/status", h.wallets.ChangeStatus, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/close", h.wallets.Close, authed)
	handle("GET "+v1+"/wallets/wallet/{id}/balance", h.wallets.Balance, authed)
	handle("GET "+v1+"/wallets/wallet/{id}/holds", h.wallets.ListHolds, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/hold", h.wallets.PlaceHold, authed, idem)
	handle("POST "+v1+"/wallets/wallet/{id}/hold/{holdId}/release", h.wallets.ReleaseHold, authed, idem)

	handle("POST "+v1+"/wallets/wallet/{id}/pin/set", h.security.SetPin, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/pin/change", h.security.ChangePin, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/pin/verify", h.security.VerifyPin, authed)
	handle("GET "+v1+"/wallets/wallet/{id}/security", h.security.Status, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/biometric/devices", h.security.RegisterDevice, authed)
	handle("DELETE "+v1+"/wallets/wallet/{id}/biometric/devices/{deviceId}", h.security.RevokeDevice, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/biometric/enable", h.security.EnableBiometric, authed)
	handle("POST "+v1+"/wallets/wallet/{id}/biometric/disable", h.security.DisableBiometric, authed)

	handle("POST "+v1+"/transactions/transfer", h.transactions.Transfer, authed, idem)
	handle("POST "+v1+"/transactions/deposit/initiate", h.transactions.InitiateDeposit, authed, idem)
	handle("POST "+v1+"/transactions/deposit/verify", h.transactions.VerifyDeposit, authed)
	handle("POST "+v1+"/transactions/withdrawal/initiate", h.transactions.InitiateWithdrawal, authed, idem)
	handle("POST "+v1+"/transactions/withdrawal/{id}/cancel", h.transactions.CancelWithdrawal, authed, idem)
	handle("POST "+v1+"/transactions/bills", h.transactions.PayBill, authed, idem)
	handle("GET "+v1+"/transactions", h.transactions.List, authed)
	handle("GET "+v1+"/transactions/statistics", h.transactions.Statistics, authed)
	handle("GET "+v1+"/transactions/{id}", h.transactions.Get, authed)
	handle("GET "+v1+"/transactions/{id}/events", h.transactions.Events, authed)

	handle("POST "+v1+"/cards/{cardId}/fund", h.cards.Fund, authed, idem)
	handle("POST "+v1+"/cards/holds/{holdId}/unfund", h.cards.Unfund, authed, idem)

	handle("POST "+v1+"/disputes", h.disputes.Create, authed, idem)
	handle("GET "+v1+"/disputes", h.disputes.List, authed)
	handle("GET "+v1+"/disputes/{id}", h.disputes.Get, authed)

	handle("GET "+v1+"/loans", h.lending.ListLoans, authed)
	handle("GET "+v1+"/loans/{id}", h.lending.GetLoan, authed)
	handle("POST "+v1+"/loans/{id}/repay", h.lending.RepayLoan, authed, idem)

	handle("POST "+v1+"/investments", h.lending.CreateInvestment, authed, idem)
	handle("GET "+v1+"/investments", h.lending.ListInvestments, authed)
	handle("GET "+v1+"/investments/{id}", h.lending.GetInvestment, authed)
	handle("POST "+v1+"/investments/{id}/liquidate", h.lending.LiquidateInvestment, authed, idem)

	handle("POST "+v1+"/admin/users/{id}/kyc", h.users.UpdateKYCTier, authed, admin)
	handle("POST "+v1+"/admin/loans", h.lending.DisburseLoan, authed, admin, idem)
	handle("POST "+v1+"/admin/disputes/{id}/investigate", h.disputes.Investigate, authed, admin)
	handle("POST "+v1+"/admin/disputes/{id}/resolve", h.disputes.Resolve, authed, admin, idem)

	return chain(mux, middleware.Tracing, middleware.Logging, middleware.Recovery)
}
