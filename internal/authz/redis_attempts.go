package authz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// beginScript counts one attempt unless the wallet is locked. An attempt past
// the maximum sets the lock and clears the counter. It returns the count and
// the lock end in unix milliseconds, or 0 when the attempt may proceed.
//
// KEYS[1] counter, KEYS[2] lock; ARGV now ms, window ms, max attempts, cooldown ms.
var beginScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local locked = redis.call('GET', KEYS[2])
if locked and tonumber(locked) > now then
	return {tonumber(redis.call('GET', KEYS[1]) or '0'), tonumber(locked)}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[3]) then
	local untilMs = now + tonumber(ARGV[4])
	redis.call('SET', KEYS[2], untilMs, 'PX', ARGV[4])
	redis.call('DEL', KEYS[1])
	return {n, untilMs}
end
return {n, 0}
`)

// RedisAttemptStore keeps attempt counters in redis so that every API
// instance sees the same lockout. The counter key expires with the window;
// the lock key holds the unlock time and expires with the cooldown.
type RedisAttemptStore struct {
	rdb    *redis.Client
	policy domain.LockoutPolicy
	prefix string
}

func NewRedisAttemptStore(rdb *redis.Client, policy domain.LockoutPolicy) *RedisAttemptStore {
	return &RedisAttemptStore{rdb: rdb, policy: policy, prefix: "pin"}
}

func (s *RedisAttemptStore) failKey(walletID uuid.UUID) string {
	return s.prefix + ":failures:" + walletID.String()
}

func (s *RedisAttemptStore) lockKey(walletID uuid.UUID) string {
	return s.prefix + ":locked:" + walletID.String()
}

func (s *RedisAttemptStore) LockedUntil(ctx context.Context, walletID uuid.UUID, now time.Time) (*time.Time, error) {
	v, err := s.rdb.Get(ctx, s.lockKey(walletID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LockedUntil: %w", err)
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("LockedUntil: parse %q: %w", v, err)
	}
	until := time.UnixMilli(ms).UTC()
	if !until.After(now) {
		return nil, nil
	}
	return &until, nil
}

func (s *RedisAttemptStore) Begin(ctx context.Context, walletID uuid.UUID, now time.Time) (*domain.PinAttempt, error) {
	res, err := beginScript.Run(ctx, s.rdb,
		[]string{s.failKey(walletID), s.lockKey(walletID)},
		now.UnixMilli(),
		s.policy.Window.Milliseconds(),
		s.policy.MaxAttempts,
		s.policy.Cooldown.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("Begin: unexpected script result %v", res)
	}

	count := int(res[0])
	attempt := &domain.PinAttempt{Count: count, Final: count >= s.policy.MaxAttempts}
	if res[1] > 0 {
		until := time.UnixMilli(res[1]).UTC()
		attempt.LockedUntil = &until
	}
	return attempt, nil
}

func (s *RedisAttemptStore) Lock(ctx context.Context, walletID uuid.UUID, now time.Time) (time.Time, error) {
	until := now.Add(s.policy.Cooldown)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.lockKey(walletID), strconv.FormatInt(until.UnixMilli(), 10), s.policy.Cooldown)
		pipe.Del(ctx, s.failKey(walletID))
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("Lock: %w", err)
	}
	return until, nil
}

func (s *RedisAttemptStore) Reset(ctx context.Context, walletID uuid.UUID) error {
	if err := s.rdb.Del(ctx, s.failKey(walletID)).Err(); err != nil {
		return fmt.Errorf("Reset: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) Failures(ctx context.Context, walletID uuid.UUID, _ time.Time) (int, error) {
	n, err := s.rdb.Get(ctx, s.failKey(walletID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("Failures: %w", err)
	}
	return n, nil
}
