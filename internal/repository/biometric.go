package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const biometricColumns = `id, wallet_id, device_id, token_hash, expires_at, revoked_at, created_at`

type BiometricDeviceRepository struct {
	db *sql.DB
}

func NewBiometricDeviceRepository(db *sql.DB) *BiometricDeviceRepository {
	return &BiometricDeviceRepository{db: db}
}

// Register revokes any active registration of the same device on the wallet
// and inserts the new one.
func (r *BiometricDeviceRepository) Register(ctx context.Context, d *domain.BiometricDevice) error {
	return WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE biometric_devices SET revoked_at = now()
			WHERE wallet_id = $1 AND device_id = $2 AND revoked_at IS NULL`,
			d.WalletID, d.DeviceID,
		); err != nil {
			return fmt.Errorf("Register: revoke previous: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO biometric_devices (id, wallet_id, device_id, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ID, d.WalletID, d.DeviceID, d.TokenHash, d.ExpiresAt, d.CreatedAt,
		); err != nil {
			return fmt.Errorf("Register: %w", err)
		}
		return nil
	})
}

func (r *BiometricDeviceRepository) GetActive(ctx context.Context, walletID uuid.UUID, deviceID string) (*domain.BiometricDevice, error) {
	var d domain.BiometricDevice
	err := r.db.QueryRowContext(ctx,
		`SELECT `+biometricColumns+` FROM biometric_devices
		WHERE wallet_id = $1 AND device_id = $2 AND revoked_at IS NULL`,
		walletID, deviceID,
	).Scan(&d.ID, &d.WalletID, &d.DeviceID, &d.TokenHash, &d.ExpiresAt, &d.RevokedAt, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("GetActive: %w", notFound(err, domain.ErrNotFound))
	}
	return &d, nil
}

func (r *BiometricDeviceRepository) Revoke(ctx context.Context, walletID uuid.UUID, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE biometric_devices SET revoked_at = now()
		WHERE wallet_id = $1 AND device_id = $2 AND revoked_at IS NULL`,
		walletID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}
	return requireRow(res, "Revoke", domain.ErrNotFound)
}

func (r *BiometricDeviceRepository) CountActive(ctx context.Context, walletID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM biometric_devices
		WHERE wallet_id = $1 AND revoked_at IS NULL AND expires_at > now()`, walletID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountActive: %w", err)
	}
	return n, nil
}
