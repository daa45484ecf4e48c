package hold

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

const sweepBatchSize = 100

// sweepableReasons are the holds the TTL applies to. Withdrawal and dispute
// holds are closed by their own workflows.
var sweepableReasons = []domain.HoldReason{domain.HoldReasonCardFunding, domain.HoldReasonManual}

type staleRepo interface {
	ListStale(ctx context.Context, cutoff time.Time, reasons []domain.HoldReason, limit int) ([]domain.Hold, error)
	TryLockWallet(ctx context.Context, tx *sql.Tx, walletID uuid.UUID) (bool, error)
}

// Sweeper expires card funding and manual holds older than ttl. Withdrawal
// and dispute holds are closed by their own workflows and are never swept.
type Sweeper struct {
	manager  *Manager
	stale    staleRepo
	logger   *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(manager *Manager, stale staleRepo, logger *slog.Logger, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		stale:    stale,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.ttl <= 0 {
		s.logger.Info("hold sweeper disabled")
		return
	}
	s.logger.Info("hold sweeper started", "ttl", s.ttl, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hold sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("hold sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires one batch of stale holds and returns how many it
// expired. Holds on wallets locked by another transaction are left for the
// next run.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx = logging.WithLogger(ctx, s.logger)
	cutoff := s.manager.now().Add(-s.ttl)

	stale, err := s.stale.ListStale(ctx, cutoff, sweepableReasons, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, h := range stale {
		ok, err := s.expire(ctx, h.ID, h.WalletID, cutoff)
		if err != nil {
			s.logger.Error("failed to expire hold", "hold_id", h.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, holdID, walletID uuid.UUID, cutoff time.Time) (bool, error) {
	tx, err := s.manager.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	locked, err := s.stale.TryLockWallet(ctx, tx, walletID)
	if err != nil || !locked {
		return false, err
	}

	h, changed, err := s.manager.close(ctx, tx, holdID, domain.HoldStatusExpired, "ttl elapsed",
		func(h *domain.Hold) bool { return h.CreatedAt.Before(cutoff) })
	if err != nil || !changed {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	metrics.HoldsReleased.WithLabelValues(string(h.Reason), string(domain.HoldStatusExpired)).Inc()
	s.logger.Info("hold auto-released",
		"hold_id", h.ID,
		"wallet_id", h.WalletID,
		"amount", h.Amount,
		"reason", h.Reason,
		"age", s.manager.now().Sub(h.CreatedAt).String(),
	)
	return true, nil
}
