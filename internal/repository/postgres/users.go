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

// PostgresUserDirectory implements the UserDirectory interface against the
// identity system's user table. The core only reads from it.
type PostgresUserDirectory struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewUserDirectory creates a new user directory
func NewUserDirectory(config *RepositoryConfig) repositories.UserDirectory {
	return &PostgresUserDirectory{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// GetByID retrieves a user's display name and ban flag
func (r *PostgresUserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT id, name, banned FROM %s WHERE id = $1`, r.tables.Users)

	var u models.User
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Banned); err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// PostgresAuditLog implements the AuditLog interface. Recording is
// best-effort: failures are logged, never surfaced.
type PostgresAuditLog struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewAuditLog creates a new audit log
func NewAuditLog(config *RepositoryConfig) repositories.AuditLog {
	return &PostgresAuditLog{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Record writes one audit entry
func (r *PostgresAuditLog) Record(ctx context.Context, entry repositories.AuditEntry) {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, action, subject, detail) VALUES ($1, $2, $3, $4)
	`, r.tables.AuditLog)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, entry.UserID, entry.Action, entry.Subject, entry.Detail); err != nil {
		r.logger.Warn("audit record failed",
			"action", entry.Action,
			"subject", entry.Subject,
			"error", err,
		)
	}
}
