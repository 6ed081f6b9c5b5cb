package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"crowdloc/internal/canonical"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
	"crowdloc/internal/langs"
	"crowdloc/internal/notify"
)

// UploadRequest is an incoming translation file plus its declared
// attributes. Language and subject attributes are only authoritative for
// brand-new lineages; updates and branches inherit them from the
// persisted Main.
type UploadRequest struct {
	SubjectID  string          `json:"subject_id"`
	SourceLang string          `json:"source_lang"`
	TargetLang string          `json:"target_lang"`
	Content    json.RawMessage `json:"content"`
}

// Validate implements basic shape validation; the language-resolution
// rule for new lineages is applied later, once the lineage role is known.
func (r UploadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SubjectID, validation.Required),
		validation.Field(&r.SourceLang, validation.Required),
		validation.Field(&r.TargetLang, validation.Required),
		validation.Field(&r.Content, validation.Required),
	)
}

// UploadResult reports what the lineage resolver decided.
type UploadResult struct {
	Translation *models.Translation `json:"translation"`
	Role        models.Visibility   `json:"role"`
	Created     bool                `json:"created"`
}

// TranslationService owns the upload intake, lineage resolution, and the
// document-level operations (content retrieval, status, fork, delete).
type TranslationService struct {
	repo    repositories.TranslationRepository
	blobs   repositories.BlobStore
	users   repositories.UserDirectory
	audit   repositories.AuditLog
	bus     notify.Bus
	catalog *langs.Catalog
	logger  *slog.Logger
}

// NewTranslationService creates a new translation service
func NewTranslationService(
	repo repositories.TranslationRepository,
	blobs repositories.BlobStore,
	users repositories.UserDirectory,
	audit repositories.AuditLog,
	bus notify.Bus,
	catalog *langs.Catalog,
	logger *slog.Logger,
) *TranslationService {
	return &TranslationService{
		repo:    repo,
		blobs:   blobs,
		users:   users,
		audit:   audit,
		bus:     bus,
		catalog: catalog,
		logger:  logger,
	}
}

func blobPath(id string) string {
	return "translations/" + id + ".json"
}

// Upload resolves the uploader's role on the lineage and persists the
// document: a new Main for an unseen lineage, an update when the
// uploader already owns the Main, otherwise a Branch pinned to the
// Main's language pair. Per-key shape violations come back in the report
// alongside a validation error; nothing is persisted in that case.
func (s *TranslationService) Upload(ctx context.Context, userID string, req *UploadRequest) (*UploadResult, *canonical.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, &domain.ValidationError{Message: err.Error()}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user.Banned {
		return nil, nil, &domain.ForbiddenError{Message: "account is suspended"}
	}

	content, report, err := canonical.Parse(req.Content)
	if err != nil {
		return nil, nil, err
	}
	if report.Total > 0 {
		return nil, report, &domain.ValidationError{
			Message: fmt.Sprintf("%d invalid keys", report.Total),
		}
	}

	// Validation and hashing happen fully in memory before any write.
	hash, err := canonical.Hash(content)
	if err != nil {
		return nil, nil, err
	}

	main, err := s.repo.GetMainByLineage(ctx, content.LineageID)
	switch {
	case err == nil && main.UserID == userID:
		t, uerr := s.updateOwnDocument(ctx, main, content, hash)
		if uerr != nil {
			return nil, nil, uerr
		}
		return &UploadResult{Translation: t, Role: models.VisibilityMain}, nil, nil

	case err == nil:
		t, created, berr := s.upsertBranch(ctx, userID, req, main, content, hash)
		if berr != nil {
			return nil, nil, berr
		}
		return &UploadResult{Translation: t, Role: models.VisibilityBranch, Created: created}, nil, nil

	default:
		if !isNotFound(err) {
			return nil, nil, err
		}
		t, cerr := s.createMain(ctx, userID, req, content, hash)
		if cerr != nil {
			return nil, nil, cerr
		}
		return &UploadResult{Translation: t, Role: models.VisibilityMain, Created: true}, nil, nil
	}
}

// createMain starts a new lineage. Only here does the language-resolution
// rule apply: both languages concrete and different.
func (s *TranslationService) createMain(ctx context.Context, userID string, req *UploadRequest, content *models.Content, hash string) (*models.Translation, error) {
	if err := s.catalog.ValidatePair(req.SourceLang, req.TargetLang); err != nil {
		return nil, err
	}

	t := &models.Translation{
		ID:         uuid.New().String(),
		LineageID:  content.LineageID,
		UserID:     userID,
		SubjectID:  req.SubjectID,
		Visibility: models.VisibilityMain,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Status:     models.StatusInProgress,
		FileHash:   hash,
	}
	t.ApplyCounters(content.LineCount(), content.Count())
	t.BlobPath = blobPath(t.ID)

	if err := s.storeContent(ctx, t.BlobPath, content); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.bus.Bump(ctx, notify.TranslationKey(t.ID), notify.LineageKey(t.LineageID))
	s.logger.Info("lineage created", "translation_id", t.ID, "lineage_id", t.LineageID)
	return t, nil
}

// updateOwnDocument refreshes an existing document's content. Main-only
// attributes (language pair, subject, status) are carried over from the
// persisted record, not taken from the request. The digest CAS makes a
// race against a concurrent merge-apply fail loudly instead of silently
// losing one side.
func (s *TranslationService) updateOwnDocument(ctx context.Context, t *models.Translation, content *models.Content, hash string) (*models.Translation, error) {
	prev := repositories.ContentUpdate{
		ExpectedHash: hash,
		FileHash:     t.FileHash,
		LineCount:    t.LineCount,
		Counters: models.Counters{
			Human:     t.HumanCount,
			Validated: t.ValidatedCount,
			AI:        t.AICount,
			Capture:   t.CaptureCount,
		},
	}

	// Row before blob: a writer that loses the digest CAS must not have
	// touched the stored content.
	upd := repositories.ContentUpdate{
		ExpectedHash: t.FileHash,
		FileHash:     hash,
		LineCount:    content.LineCount(),
		Counters:     content.Count(),
	}
	if err := s.repo.UpdateContent(ctx, t.ID, upd); err != nil {
		return nil, err
	}

	if err := s.storeContent(ctx, t.BlobPath, content); err != nil {
		if rerr := s.repo.UpdateContent(ctx, t.ID, prev); rerr != nil {
			s.logger.Error("content revert after blob write failure",
				"translation_id", t.ID, "error", rerr)
		}
		return nil, err
	}

	t.FileHash = hash
	t.ApplyCounters(content.LineCount(), content.Count())

	s.bus.Bump(ctx, notify.TranslationKey(t.ID), notify.LineageKey(t.LineageID))
	return t, nil
}

// upsertBranch creates or refreshes the uploader's branch on someone
// else's lineage. The branch's language pair is forced to match the
// Main's, ignoring whatever the uploader supplied.
func (s *TranslationService) upsertBranch(ctx context.Context, userID string, req *UploadRequest, main *models.Translation, content *models.Content, hash string) (*models.Translation, bool, error) {
	existing, err := s.repo.GetByLineageAndUser(ctx, main.LineageID, userID)
	if err == nil {
		t, uerr := s.updateOwnDocument(ctx, existing, content, hash)
		return t, false, uerr
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	t := &models.Translation{
		ID:         uuid.New().String(),
		LineageID:  main.LineageID,
		UserID:     userID,
		SubjectID:  main.SubjectID,
		Visibility: models.VisibilityBranch,
		ParentID:   &main.ID,
		SourceLang: main.SourceLang,
		TargetLang: main.TargetLang,
		Status:     main.Status,
		FileHash:   hash,
	}
	t.ApplyCounters(content.LineCount(), content.Count())
	t.BlobPath = blobPath(t.ID)

	if err := s.storeContent(ctx, t.BlobPath, content); err != nil {
		return nil, false, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, false, err
	}

	s.bus.Bump(ctx, notify.TranslationKey(t.ID), notify.LineageKey(t.LineageID))
	s.logger.Info("branch created", "translation_id", t.ID, "lineage_id", t.LineageID, "parent_id", main.ID)
	return t, true, nil
}

func (s *TranslationService) storeContent(ctx context.Context, path string, content *models.Content) error {
	data, err := canonical.Marshal(content)
	if err != nil {
		return err
	}
	return s.blobs.Store(ctx, path, data)
}

// Get returns a translation's metadata.
func (s *TranslationService) Get(ctx context.Context, id string) (*models.Translation, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns a user's translations.
func (s *TranslationService) ListByUser(ctx context.Context, userID string) ([]models.Translation, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Content returns a translation's raw content and digest. countDownload
// is false for conditional requests that short-circuited upstream.
func (s *TranslationService) Content(ctx context.Context, id string, countDownload bool) ([]byte, string, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.blobs.Read(ctx, t.BlobPath)
	if err != nil {
		return nil, "", fmt.Errorf("read content blob: %w", err)
	}
	if countDownload {
		if err := s.repo.IncrementDownloadCount(ctx, id); err != nil {
			// Counting must not break the download.
			s.logger.Warn("download count increment failed", "translation_id", id, "error", err)
		}
	}
	return data, t.FileHash, nil
}

// SetStatus updates the completion status. Only the Main owner may set
// it; branches inherit the Main's status.
func (s *TranslationService) SetStatus(ctx context.Context, userID, id string, status models.Status) (*models.Translation, error) {
	if status != models.StatusInProgress && status != models.StatusComplete {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid status %q", status)}
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}
	if !t.IsMain() {
		return nil, &domain.ForbiddenError{Message: "status is set on the main document"}
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	t.Status = status

	s.bus.Bump(ctx, notify.TranslationKey(t.ID), notify.LineageKey(t.LineageID))
	return t, nil
}

// Fork detaches a branch into a brand-new lineage: the document gets a
// fresh lineage identifier, becomes that lineage's Main, and keeps its
// parent_id for traceability.
func (s *TranslationService) Fork(ctx context.Context, userID, id string) (*models.Translation, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}
	if t.IsMain() {
		return nil, &domain.ValidationError{Message: "main documents cannot be forked"}
	}

	data, err := s.blobs.Read(ctx, t.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("read content blob: %w", err)
	}
	content, _, err := canonical.Parse(data)
	if err != nil {
		return nil, err
	}

	oldLineage := t.LineageID
	content.LineageID = uuid.New().String()
	hash, err := canonical.Hash(content)
	if err != nil {
		return nil, err
	}

	if err := s.storeContent(ctx, t.BlobPath, content); err != nil {
		return nil, err
	}
	if err := s.repo.Detach(ctx, t.ID, content.LineageID, hash); err != nil {
		return nil, err
	}

	t.LineageID = content.LineageID
	t.Visibility = models.VisibilityMain
	t.FileHash = hash

	s.bus.Bump(ctx,
		notify.TranslationKey(t.ID),
		notify.LineageKey(oldLineage),
		notify.LineageKey(t.LineageID),
	)
	s.audit.Record(ctx, repositories.AuditEntry{
		UserID: userID, Action: "fork", Subject: t.ID,
		Detail: fmt.Sprintf("detached from lineage %s", oldLineage),
	})
	return t, nil
}

// Delete removes a translation, cascading to votes and clearing
// parent_id on dependent forks.
func (s *TranslationService) Delete(ctx context.Context, userID, id string) error {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return &domain.ForbiddenError{Message: "not the owner of this translation"}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, t.BlobPath); err != nil {
		s.logger.Warn("blob delete failed", "translation_id", id, "error", err)
	}

	s.bus.Bump(ctx, notify.TranslationKey(id), notify.LineageKey(t.LineageID))
	s.audit.Record(ctx, repositories.AuditEntry{
		UserID: userID, Action: "delete", Subject: id,
	})
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
