package service

import (
	"context"
	"log/slog"
	"time"
)

type expiredCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// IdempotencyJanitor deletes replay-cache entries past their TTL.
type IdempotencyJanitor struct {
	cache    expiredCleaner
	logger   *slog.Logger
	interval time.Duration
}

func NewIdempotencyJanitor(cache expiredCleaner, logger *slog.Logger, interval time.Duration) *IdempotencyJanitor {
	return &IdempotencyJanitor{cache: cache, logger: logger, interval: interval}
}

func (j *IdempotencyJanitor) Start(ctx context.Context) {
	j.logger.Info("idempotency janitor started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("idempotency janitor stopped")
			return
		case <-ticker.C:
			n, err := j.cache.CleanExpired(ctx)
			if err != nil {
				j.logger.Error("idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("expired idempotency entries removed", "count", n)
			}
		}
	}
}
