package repositories

import (
	"context"

	"crowdloc/internal/domain/models"
)

// ContentUpdate carries everything recomputed when a translation's
// content changes: the new digest, the key count, and the composition
// counters. ExpectedHash is the digest the writer read before mutating;
// the repository performs a compare-and-swap against it so a racing
// writer fails with a retry-able conflict instead of silently winning.
type ContentUpdate struct {
	ExpectedHash string
	FileHash     string
	LineCount    int
	Counters     models.Counters
}

// TranslationRepository persists translation documents.
type TranslationRepository interface {
	Create(ctx context.Context, t *models.Translation) error
	GetByID(ctx context.Context, id string) (*models.Translation, error)

	// GetMainByLineage returns the oldest document with visibility
	// "main" for the lineage, or ErrNotFound.
	GetMainByLineage(ctx context.Context, lineageID string) (*models.Translation, error)

	// GetByLineageAndUser returns the requester's own document on the
	// lineage, or ErrNotFound.
	GetByLineageAndUser(ctx context.Context, lineageID, userID string) (*models.Translation, error)

	ListBranches(ctx context.Context, lineageID string) ([]models.Translation, error)
	CountBranches(ctx context.Context, lineageID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.Translation, error)

	// UpdateContent applies a ContentUpdate under digest CAS.
	// Returns *domain.ConflictError when the stored digest no longer
	// matches upd.ExpectedHash.
	UpdateContent(ctx context.Context, id string, upd ContentUpdate) error

	UpdateStatus(ctx context.Context, id string, status models.Status) error

	// Detach turns a branch into the Main of a brand-new lineage,
	// keeping parent_id for traceability.
	Detach(ctx context.Context, id, newLineageID, newHash string) error

	AdjustVoteCount(ctx context.Context, id string, delta int) error
	IncrementDownloadCount(ctx context.Context, id string) error

	// LockForVote takes a row-level lock on the translation so vote
	// read-then-write sequences serialize per document. Must be called
	// inside a transaction.
	LockForVote(ctx context.Context, id string) error

	// Delete removes the document, cascading to votes and clearing
	// parent_id on dependent forks.
	Delete(ctx context.Context, id string) error
}

// VoteRepository persists per-(translation, user) votes.
type VoteRepository interface {
	Get(ctx context.Context, translationID, userID string) (*models.Vote, error)
	Upsert(ctx context.Context, vote *models.Vote) error
	Delete(ctx context.Context, translationID, userID string) error
}

// DeviceCodeRepository persists short-lived pairing records.
type DeviceCodeRepository interface {
	Create(ctx context.Context, code *models.DeviceCode) error
	GetByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error)
	GetByUserCode(ctx context.Context, userCode string) (*models.DeviceCode, error)

	// UserCodeTaken reports whether an unexpired pending record already
	// claims the human-enterable code.
	UserCodeTaken(ctx context.Context, userCode string) (bool, error)

	// Authorize attaches a user to a pending code.
	Authorize(ctx context.Context, userCode, userID string) error

	Delete(ctx context.Context, deviceCode string) error
	DeleteExpired(ctx context.Context) error
}

// MergeTokenRepository persists single-use merge preview tokens.
type MergeTokenRepository interface {
	Create(ctx context.Context, token *models.MergePreviewToken) error
	Get(ctx context.Context, token string) (*models.MergePreviewToken, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) error
}
