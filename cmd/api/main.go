package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/authz"
	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/hold"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/migrations"
	"github.com/josh-kwaku/wallet-ledger/internal/pricing"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
	"github.com/josh-kwaku/wallet-ledger/internal/service/transaction"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("wallet-api", cfg.LogLevel, cfg.AppEnv)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	db, err := repository.NewPostgresDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("run: redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	app := wire(cfg, db, rdb, logger)

	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	startWorker := func(start func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}
	startWorker(app.webhooks.Start)
	startWorker(app.janitor.Start)
	if app.sweeper != nil {
		startWorker(app.sweeper.Start)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("run: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Workers stop after in-flight requests so callbacks they enqueue still
	// get one more poll.
	stopWorkers()
	workers.Wait()

	logger.Info("server stopped")
	return nil
}

type application struct {
	router   http.Handler
	webhooks *service.WebhookProcessor
	janitor  *service.IdempotencyJanitor
	sweeper  *hold.Sweeper
}

func wire(cfg *config.Config, db *sql.DB, rdb *redis.Client, logger *slog.Logger) *application {
	users := repository.NewUserRepository(db)
	refreshTokens := repository.NewRefreshTokenRepository(db)
	wallets := repository.NewWalletRepository(db)
	holds := repository.NewHoldRepository(db)
	entries := repository.NewLedgerRepository(db)
	transactions := repository.NewTransactionRepository(db)
	events := repository.NewTransactionEventRepository(db)
	devices := repository.NewBiometricDeviceRepository(db)
	loans := repository.NewLoanRepository(db)
	investments := repository.NewInvestmentRepository(db)
	disputes := repository.NewDisputeRepository(db)
	webhookEvents := repository.NewWebhookEventRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	policy := domain.LockoutPolicy{
		MaxAttempts: cfg.PinMaxAttempts,
		Window:      cfg.PinAttemptWindow,
		Cooldown:    cfg.PinLockoutCooldown,
	}
	var attempts authz.AttemptStore = repository.NewPinAttemptRepository(db, policy)
	if rdb != nil {
		attempts = authz.NewRedisAttemptStore(rdb, policy)
	}

	engine := ledger.NewEngine(db, wallets, entries, transactions, holds, events)
	holdManager := hold.NewManager(db, wallets, holds)
	gate := authz.NewGate(wallets, devices, attempts)
	provider := service.NewProviderClient(cfg.ProviderURL, cfg.ProviderCallbackURL, cfg.ProviderMaxAttempts)

	txService := transaction.NewService(transaction.Deps{
		DB:           db,
		Engine:       engine,
		Holds:        holdManager,
		Gate:         gate,
		Pricer:       pricing.NewPricer(cfg.Fees, cfg.InvestmentPenaltyPct),
		Provider:     provider,
		Wallets:      wallets,
		Users:        users,
		Transactions: transactions,
		Events:       events,
		Loans:        loans,
		Investments:  investments,
		Disputes:     disputes,
		Limits:       transaction.Limits{Tier1: cfg.KYCTier1TxLimit, Tier2: cfg.KYCTier2TxLimit},
	})
	walletService := service.NewWalletService(db, wallets, holds, users)
	sessions := auth.NewSessionService(db, users, refreshTokens, auth.SessionConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})

	health := handler.NewHealthHandler(db, nil)
	if rdb != nil {
		health = handler.NewHealthHandler(db, handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	h := handlers{
		health:       health,
		auth:         handler.NewAuthHandler(sessions, cfg.AppEnv != "development"),
		users:        handler.NewUserHandler(users),
		wallets:      handler.NewWalletHandler(walletService, holdManager),
		security:     handler.NewSecurityHandler(gate, walletService),
		transactions: handler.NewTransactionHandler(txService),
		cards:        handler.NewCardHandler(txService),
		disputes:     handler.NewDisputeHandler(txService),
		lending:      handler.NewLendingHandler(txService),
		webhooks:     handler.NewWebhookHandler(webhookEvents, cfg.WebhookSecret),
	}

	app := &application{
		router:   newRouter(h, cfg.JWTSecret, idempotency),
		webhooks: service.NewWebhookProcessor(webhookEvents, txService, db, logger, cfg.WebhookPollInterval),
		janitor:  service.NewIdempotencyJanitor(idempotency, logger, idempotencyCleanupInterval),
	}
	if cfg.HoldTTL > 0 {
		app.sweeper = hold.NewSweeper(holdManager, holds, logger, cfg.HoldTTL, cfg.HoldSweepInterval)
	}
	return app
}
