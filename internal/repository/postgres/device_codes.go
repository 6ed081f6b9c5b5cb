package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
)

// PostgresDeviceCodeRepository implements the DeviceCodeRepository interface
type PostgresDeviceCodeRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewDeviceCodeRepository creates a new device code repository
func NewDeviceCodeRepository(config *RepositoryConfig) repositories.DeviceCodeRepository {
	return &PostgresDeviceCodeRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a new pairing record
func (r *PostgresDeviceCodeRepository) Create(ctx context.Context, code *models.DeviceCode) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (device_code, user_code, user_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, r.tables.DeviceCodes)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		code.DeviceCode, code.UserCode, code.UserID, code.ExpiresAt,
	).Scan(&code.CreatedAt)
	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("device code: %w", domain.ErrConflict)
		}
		return fmt.Errorf("create device code: %w", err)
	}
	return nil
}

// Expiry is enforced in SQL at every lookup, so an expired record is
// indistinguishable from a missing one.

// GetByDeviceCode retrieves an unexpired record by its opaque code
func (r *PostgresDeviceCodeRepository) GetByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error) {
	return r.getBy(ctx, "device_code", deviceCode)
}

// GetByUserCode retrieves an unexpired record by its human-typed code
func (r *PostgresDeviceCodeRepository) GetByUserCode(ctx context.Context, userCode string) (*models.DeviceCode, error) {
	return r.getBy(ctx, "user_code", userCode)
}

func (r *PostgresDeviceCodeRepository) getBy(ctx context.Context, column, value string) (*models.DeviceCode, error) {
	query := fmt.Sprintf(`
		SELECT device_code, user_code, user_id, expires_at, created_at
		FROM %s
		WHERE %s = $1 AND expires_at > now()
	`, r.tables.DeviceCodes, column)

	var d models.DeviceCode
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, value).Scan(
		&d.DeviceCode, &d.UserCode, &d.UserID, &d.ExpiresAt, &d.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("device code: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get device code: %w", err)
	}
	return &d, nil
}

// UserCodeTaken reports whether an unexpired record claims the user code
func (r *PostgresDeviceCodeRepository) UserCodeTaken(ctx context.Context, userCode string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE user_code = $1 AND expires_at > now())
	`, r.tables.DeviceCodes)

	var taken bool
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, userCode).Scan(&taken); err != nil {
		return false, fmt.Errorf("check user code: %w", err)
	}
	return taken, nil
}

// Authorize attaches a user to a pending, unexpired code
func (r *PostgresDeviceCodeRepository) Authorize(ctx context.Context, userCode, userID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET user_id = $1
		WHERE user_code = $2 AND user_id IS NULL AND expires_at > now()
	`, r.tables.DeviceCodes)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, userID, userCode)
	if err != nil {
		return fmt.Errorf("authorize device code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device code: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a pairing record
func (r *PostgresDeviceCodeRepository) Delete(ctx context.Context, deviceCode string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE device_code = $1`, r.tables.DeviceCodes)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, deviceCode); err != nil {
		return fmt.Errorf("delete device code: %w", err)
	}
	return nil
}

// DeleteExpired garbage-collects expired records; called opportunistically
// on each creation
func (r *PostgresDeviceCodeRepository) DeleteExpired(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, r.tables.DeviceCodes)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query); err != nil {
		return fmt.Errorf("delete expired device codes: %w", err)
	}
	return nil
}
