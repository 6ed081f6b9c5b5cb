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

// PostgresMergeTokenRepository implements the MergeTokenRepository interface
type PostgresMergeTokenRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMergeTokenRepository creates a new merge token repository
func NewMergeTokenRepository(config *RepositoryConfig) repositories.MergeTokenRepository {
	return &PostgresMergeTokenRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a new preview token
func (r *PostgresMergeTokenRepository) Create(ctx context.Context, token *models.MergePreviewToken) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (token, translation_id, user_id, local_content, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, r.tables.MergeTokens)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		token.Token, token.TranslationID, token.UserID, token.LocalContent, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return fmt.Errorf("create merge token: %w", err)
	}
	return nil
}

// Get retrieves an unexpired token. Because the token itself is the
// authentication, expired and unknown tokens both come back as not-found.
func (r *PostgresMergeTokenRepository) Get(ctx context.Context, token string) (*models.MergePreviewToken, error) {
	query := fmt.Sprintf(`
		SELECT token, translation_id, user_id, local_content, expires_at, created_at
		FROM %s
		WHERE token = $1 AND expires_at > now()
	`, r.tables.MergeTokens)

	var t models.MergePreviewToken
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, token).Scan(
		&t.Token, &t.TranslationID, &t.UserID, &t.LocalContent, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("merge token: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get merge token: %w", err)
	}
	return &t, nil
}

// Delete removes a token (single use)
func (r *PostgresMergeTokenRepository) Delete(ctx context.Context, token string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE token = $1`, r.tables.MergeTokens)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, token); err != nil {
		return fmt.Errorf("delete merge token: %w", err)
	}
	return nil
}

// DeleteExpired garbage-collects expired tokens
func (r *PostgresMergeTokenRepository) DeleteExpired(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, r.tables.MergeTokens)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query); err != nil {
		return fmt.Errorf("delete expired merge tokens: %w", err)
	}
	return nil
}
