package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	RedisURL      string `env:"REDIS_URL"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	ProviderURL         string `env:"PROVIDER_URL" envDefault:"http://mock-provider:8081"`
	ProviderCallbackURL string `env:"PROVIDER_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/provider"`
	ProviderMaxAttempts uint64 `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"4"`

	PinMaxAttempts     int           `env:"PIN_MAX_ATTEMPTS" envDefault:"5"`
	PinAttemptWindow   time.Duration `env:"PIN_ATTEMPT_WINDOW" envDefault:"15m"`
	PinLockoutCooldown time.Duration `env:"PIN_LOCKOUT_COOLDOWN" envDefault:"30m"`

	HoldTTL             time.Duration `env:"HOLD_TTL" envDefault:"0"`
	HoldSweepInterval   time.Duration `env:"HOLD_SWEEP_INTERVAL" envDefault:"1m"`
	WebhookPollInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"2s"`

	Fees FeeConfig

	KYCTier1TxLimit int64 `env:"KYC_TIER1_TX_LIMIT" envDefault:"5000000"`
	KYCTier2TxLimit int64 `env:"KYC_TIER2_TX_LIMIT" envDefault:"50000000"`

	InvestmentPenaltyPct float64 `env:"INVESTMENT_PENALTY_PCT" envDefault:"0.25"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

// FeeConfig amounts are minor units; BPS values are basis points of the amount.
type FeeConfig struct {
	TransferFlat   int64 `env:"TRANSFER_FEE_FLAT" envDefault:"50"`
	TransferBPS    int64 `env:"TRANSFER_FEE_BPS" envDefault:"0"`
	WithdrawalFlat int64 `env:"WITHDRAWAL_FEE_FLAT" envDefault:"100"`
	WithdrawalBPS  int64 `env:"WITHDRAWAL_FEE_BPS" envDefault:"0"`
	BillFlat       int64 `env:"BILL_FEE_FLAT" envDefault:"0"`
	Cap            int64 `env:"FEE_CAP" envDefault:"500000"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
