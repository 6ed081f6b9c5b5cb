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

// PostgresTranslationRepository implements the TranslationRepository interface
type PostgresTranslationRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewTranslationRepository creates a new translation repository
func NewTranslationRepository(config *RepositoryConfig) repositories.TranslationRepository {
	return &PostgresTranslationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const translationColumns = `id, lineage_id, user_id, subject_id, visibility, parent_id,
		source_lang, target_lang, status, human_count, validated_count, ai_count,
		capture_count, vote_count, download_count, file_hash, line_count, blob_path,
		created_at, updated_at`

func scanTranslation(row interface{ Scan(...any) error }) (*models.Translation, error) {
	var t models.Translation
	err := row.Scan(
		&t.ID, &t.LineageID, &t.UserID, &t.SubjectID, &t.Visibility, &t.ParentID,
		&t.SourceLang, &t.TargetLang, &t.Status, &t.HumanCount, &t.ValidatedCount,
		&t.AICount, &t.CaptureCount, &t.VoteCount, &t.DownloadCount, &t.FileHash,
		&t.LineCount, &t.BlobPath, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new translation
func (r *PostgresTranslationRepository) Create(ctx context.Context, t *models.Translation) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, lineage_id, user_id, subject_id, visibility, parent_id,
			source_lang, target_lang, status, human_count, validated_count, ai_count,
			capture_count, vote_count, download_count, file_hash, line_count, blob_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		t.ID, t.LineageID, t.UserID, t.SubjectID, t.Visibility, t.ParentID,
		t.SourceLang, t.TargetLang, t.Status, t.HumanCount, t.ValidatedCount,
		t.AICount, t.CaptureCount, t.VoteCount, t.DownloadCount, t.FileHash,
		t.LineCount, t.BlobPath,
	).Scan(&t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("translation %s: %w", t.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create translation: %w", err)
	}

	return nil
}

// GetByID retrieves a translation by ID
func (r *PostgresTranslationRepository) GetByID(ctx context.Context, id string) (*models.Translation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, translationColumns, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	t, err := scanTranslation(executor.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("translation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get translation: %w", err)
	}
	return t, nil
}

// GetMainByLineage retrieves the oldest main document for a lineage.
// The single-Main invariant holds because uploads route through the
// lineage resolver, but ordering by created_at keeps the answer
// deterministic even if legacy data carries duplicates.
func (r *PostgresTranslationRepository) GetMainByLineage(ctx context.Context, lineageID string) (*models.Translation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE lineage_id = $1 AND visibility = 'main'
		ORDER BY created_at ASC
		LIMIT 1
	`, translationColumns, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	t, err := scanTranslation(executor.QueryRow(ctx, query, lineageID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("lineage %s main: %w", lineageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get lineage main: %w", err)
	}
	return t, nil
}

// GetByLineageAndUser retrieves the user's own document on a lineage
func (r *PostgresTranslationRepository) GetByLineageAndUser(ctx context.Context, lineageID, userID string) (*models.Translation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE lineage_id = $1 AND user_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, translationColumns, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	t, err := scanTranslation(executor.QueryRow(ctx, query, lineageID, userID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("lineage %s user %s: %w", lineageID, userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get lineage document: %w", err)
	}
	return t, nil
}

// ListBranches lists a lineage's branch documents, oldest first
func (r *PostgresTranslationRepository) ListBranches(ctx context.Context, lineageID string) ([]models.Translation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE lineage_id = $1 AND visibility = 'branch'
		ORDER BY created_at ASC
	`, translationColumns, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, lineageID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []models.Translation
	for rows.Next() {
		t, err := scanTranslation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountBranches counts a lineage's branch documents
func (r *PostgresTranslationRepository) CountBranches(ctx context.Context, lineageID string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE lineage_id = $1 AND visibility = 'branch'
	`, r.tables.Translations)

	var n int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, lineageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count branches: %w", err)
	}
	return n, nil
}

// ListByUser lists a user's translations, newest first
func (r *PostgresTranslationRepository) ListByUser(ctx context.Context, userID string) ([]models.Translation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, translationColumns, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list translations: %w", err)
	}
	defer rows.Close()

	var out []models.Translation
	for rows.Next() {
		t, err := scanTranslation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateContent writes recomputed content statistics under digest CAS.
// The WHERE clause on file_hash makes a lost race visible: zero rows
// affected means another writer got there first.
func (r *PostgresTranslationRepository) UpdateContent(ctx context.Context, id string, upd repositories.ContentUpdate) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET file_hash = $1, line_count = $2, human_count = $3, validated_count = $4,
			ai_count = $5, capture_count = $6, updated_at = now()
		WHERE id = $7 AND file_hash = $8
	`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		upd.FileHash, upd.LineCount, upd.Counters.Human, upd.Counters.Validated,
		upd.Counters.AI, upd.Counters.Capture, id, upd.ExpectedHash,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &domain.ConflictError{
			Message:      "translation content changed concurrently",
			ExpectedHash: upd.ExpectedHash,
			CurrentHash:  current.FileHash,
		}
	}
	return nil
}

// UpdateStatus sets the completion status
func (r *PostgresTranslationRepository) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = now() WHERE id = $2`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("translation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Detach converts a branch into the Main of a new lineage
func (r *PostgresTranslationRepository) Detach(ctx context.Context, id, newLineageID, newHash string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET lineage_id = $1, visibility = 'main', file_hash = $2, updated_at = now()
		WHERE id = $3
	`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, newLineageID, newHash, id)
	if err != nil {
		return fmt.Errorf("detach translation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("translation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AdjustVoteCount applies a signed delta to the vote counter
func (r *PostgresTranslationRepository) AdjustVoteCount(ctx context.Context, id string, delta int) error {
	query := fmt.Sprintf(`UPDATE %s SET vote_count = vote_count + $1 WHERE id = $2`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, delta, id); err != nil {
		return fmt.Errorf("adjust vote count: %w", err)
	}
	return nil
}

// IncrementDownloadCount bumps the download counter
func (r *PostgresTranslationRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET download_count = download_count + 1 WHERE id = $1`, r.tables.Translations)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("increment download count: %w", err)
	}
	return nil
}

// LockForVote takes a row-level lock so vote mutations serialize per
// document. Only meaningful inside a transaction.
func (r *PostgresTranslationRepository) LockForVote(ctx context.Context, id string) error {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, r.tables.Translations)

	var locked string
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, id).Scan(&locked); err != nil {
		if IsPgNoRowsError(err) {
			return fmt.Errorf("translation %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("lock translation: %w", err)
	}
	return nil
}

// Delete removes the translation, its votes, and clears parent_id on
// dependent forks (no cascade delete across lineages).
func (r *PostgresTranslationRepository) Delete(ctx context.Context, id string) error {
	executor := GetExecutor(ctx, r.pool)

	clearForks := fmt.Sprintf(`UPDATE %s SET parent_id = NULL WHERE parent_id = $1`, r.tables.Translations)
	if _, err := executor.Exec(ctx, clearForks, id); err != nil {
		return fmt.Errorf("clear fork parents: %w", err)
	}

	deleteVotes := fmt.Sprintf(`DELETE FROM %s WHERE translation_id = $1`, r.tables.Votes)
	if _, err := executor.Exec(ctx, deleteVotes, id); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}

	deleteDoc := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Translations)
	tag, err := executor.Exec(ctx, deleteDoc, id)
	if err != nil {
		return fmt.Errorf("delete translation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("translation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
