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

// PostgresVoteRepository implements the VoteRepository interface
type PostgresVoteRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(config *RepositoryConfig) repositories.VoteRepository {
	return &PostgresVoteRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Get retrieves a user's vote on a translation
func (r *PostgresVoteRepository) Get(ctx context.Context, translationID, userID string) (*models.Vote, error) {
	query := fmt.Sprintf(`
		SELECT translation_id, user_id, value, created_at
		FROM %s
		WHERE translation_id = $1 AND user_id = $2
	`, r.tables.Votes)

	var v models.Vote
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, translationID, userID).Scan(
		&v.TranslationID, &v.UserID, &v.Value, &v.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("vote: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return &v, nil
}

// Upsert inserts or replaces a user's vote. The primary key on
// (translation_id, user_id) is the uniqueness constraint.
func (r *PostgresVoteRepository) Upsert(ctx context.Context, vote *models.Vote) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (translation_id, user_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (translation_id, user_id) DO UPDATE SET value = EXCLUDED.value
	`, r.tables.Votes)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, vote.TranslationID, vote.UserID, vote.Value); err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

// Delete removes a user's vote
func (r *PostgresVoteRepository) Delete(ctx context.Context, translationID, userID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE translation_id = $1 AND user_id = $2`, r.tables.Votes)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, translationID, userID); err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}
