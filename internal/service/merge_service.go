package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crowdloc/internal/canonical"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
	"crowdloc/internal/notify"
	"crowdloc/internal/service/merge"
)

// MergeService orchestrates the diff/merge engine against persisted
// documents: N-way Main/Branches merges for Main owners, two-way
// local/online previews for any document owner, and the preview-token
// flow that lets an external client hand a merge off to a browser.
type MergeService struct {
	repo   repositories.TranslationRepository
	tokens repositories.MergeTokenRepository
	blobs  repositories.BlobStore
	audit  repositories.AuditLog
	bus    notify.Bus
	logger *slog.Logger
}

// NewMergeService creates a new merge service
func NewMergeService(
	repo repositories.TranslationRepository,
	tokens repositories.MergeTokenRepository,
	blobs repositories.BlobStore,
	audit repositories.AuditLog,
	bus notify.Bus,
	logger *slog.Logger,
) *MergeService {
	return &MergeService{
		repo:   repo,
		tokens: tokens,
		blobs:  blobs,
		audit:  audit,
		bus:    bus,
		logger: logger,
	}
}

// loadContent reads and parses a document's persisted content. Malformed
// persisted content aborts the whole operation before any write.
func (s *MergeService) loadContent(ctx context.Context, t *models.Translation) (*models.Content, error) {
	data, err := s.blobs.Read(ctx, t.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("read content blob for %s: %w", t.ID, err)
	}
	return parseStrict(data)
}

func parseStrict(raw []byte) (*models.Content, error) {
	content, report, err := canonical.Parse(raw)
	if err != nil {
		return nil, err
	}
	if report.Total > 0 {
		return nil, &domain.FormatError{Message: fmt.Sprintf("%d malformed keys in stored content", report.Total)}
	}
	return content, nil
}

// loadMainForOwner fetches the Main document and enforces ownership.
func (s *MergeService) loadMainForOwner(ctx context.Context, userID, mainID string) (*models.Translation, error) {
	t, err := s.repo.GetByID(ctx, mainID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}
	if !t.IsMain() {
		return nil, &domain.ValidationError{Message: "merge target must be a main document"}
	}
	return t, nil
}

// loadBranches fetches the selected branches, verifying each belongs to
// the Main's lineage.
func (s *MergeService) loadBranches(ctx context.Context, main *models.Translation, branchIDs []string) ([]merge.BranchContent, map[string]*models.Content, error) {
	ordered := make([]merge.BranchContent, 0, len(branchIDs))
	byID := make(map[string]*models.Content, len(branchIDs))
	for _, id := range branchIDs {
		b, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if b.LineageID != main.LineageID || b.IsMain() {
			return nil, nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s is not a branch of this lineage", id),
			}
		}
		content, err := s.loadContent(ctx, b)
		if err != nil {
			return nil, nil, err
		}
		ordered = append(ordered, merge.BranchContent{BranchID: id, Content: content})
		byID[id] = content
	}
	return ordered, byID, nil
}

// Branches lists a Main's branches for the merge view.
func (s *MergeService) Branches(ctx context.Context, userID, mainID string) ([]models.Translation, error) {
	main, err := s.loadMainForOwner(ctx, userID, mainID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBranches(ctx, main.LineageID)
}

// MergeRows computes the N-way comparison between a Main and a selected
// subset of its branches, with optional OR-composed filters.
func (s *MergeService) MergeRows(ctx context.Context, userID, mainID string, branchIDs []string, filters []merge.Filter) ([]merge.Row, error) {
	main, err := s.loadMainForOwner(ctx, userID, mainID)
	if err != nil {
		return nil, err
	}
	mainContent, err := s.loadContent(ctx, main)
	if err != nil {
		return nil, err
	}
	branches, _, err := s.loadBranches(ctx, main, branchIDs)
	if err != nil {
		return nil, err
	}
	return merge.ApplyFilters(merge.Diff(mainContent, branches), filters), nil
}

// ApplyRequest is one merge commit: selections plus per-key deletions.
type ApplyRequest struct {
	BranchIDs  []string          `json:"branch_ids"`
	Selections []merge.Selection `json:"selections"`
	Deletions  []string          `json:"deletions"`
	// ExpectedHash is the digest the client computed its selections
	// against. A commit over any other server state is rejected with a
	// conflict instead of silently layering on top of it.
	ExpectedHash string `json:"expected_hash,omitempty"`
}

// ApplyResult reports the recomputed document statistics.
type ApplyResult struct {
	Translation *models.Translation `json:"translation"`
	Applied     int                 `json:"applied"`
	Deleted     int                 `json:"deleted"`
}

// ApplyMerge materializes a selection set into the Main document,
// recomputes digest and counters, and persists under digest CAS so a
// racing writer surfaces as a retry-able conflict.
func (s *MergeService) ApplyMerge(ctx context.Context, userID, mainID string, req *ApplyRequest) (*ApplyResult, error) {
	main, err := s.loadMainForOwner(ctx, userID, mainID)
	if err != nil {
		return nil, err
	}
	mainContent, err := s.loadContent(ctx, main)
	if err != nil {
		return nil, err
	}
	_, byID, err := s.loadBranches(ctx, main, req.BranchIDs)
	if err != nil {
		return nil, err
	}

	src := merge.Sources{Base: mainContent, Branches: byID}
	merged, err := merge.Apply(src, req.Selections, req.Deletions, merge.Options{ActorIsMainOwner: true})
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, main, merged, req.ExpectedHash); err != nil {
		return nil, err
	}

	s.logger.Info("merge applied",
		"translation_id", main.ID,
		"selections", len(req.Selections),
		"deletions", len(req.Deletions),
	)
	return &ApplyResult{
		Translation: main,
		Applied:     len(req.Selections),
		Deleted:     len(req.Deletions),
	}, nil
}

// persist writes merged content: the row first, under digest CAS, then
// the blob. A racing writer loses the CAS and never touches the blob.
// expectedHash is the digest the caller's view was computed against;
// empty means the row as loaded at the start of this call.
func (s *MergeService) persist(ctx context.Context, t *models.Translation, content *models.Content, expectedHash string) error {
	hash, err := canonical.Hash(content)
	if err != nil {
		return err
	}
	data, err := canonical.Marshal(content)
	if err != nil {
		return err
	}
	if expectedHash == "" {
		expectedHash = t.FileHash
	}

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

	upd := repositories.ContentUpdate{
		ExpectedHash: expectedHash,
		FileHash:     hash,
		LineCount:    content.LineCount(),
		Counters:     content.Count(),
	}
	if err := s.repo.UpdateContent(ctx, t.ID, upd); err != nil {
		return err
	}

	if err := s.blobs.Store(ctx, t.BlobPath, data); err != nil {
		// Put the row back so it keeps describing the blob on disk.
		if rerr := s.repo.UpdateContent(ctx, t.ID, prev); rerr != nil {
			s.logger.Error("content revert after blob write failure",
				"translation_id", t.ID, "error", rerr)
		}
		return err
	}

	t.FileHash = hash
	t.ApplyCounters(content.LineCount(), content.Count())

	s.bus.Bump(ctx, notify.TranslationKey(t.ID), notify.LineageKey(t.LineageID))
	return nil
}

// PreviewResult is the two-way comparison plus the auto-resolved default
// selection set and how many real changes committing it would apply.
type PreviewResult struct {
	Rows        []merge.PreviewRow `json:"rows"`
	Defaults    []merge.Selection  `json:"defaults"`
	RealChanges int                `json:"real_changes"`
}

// Preview compares a caller-supplied local snapshot against the caller's
// own persisted document.
func (s *MergeService) Preview(ctx context.Context, userID, translationID string, localRaw []byte) (*PreviewResult, error) {
	t, err := s.repo.GetByID(ctx, translationID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}

	local, err := parseStrict(localRaw)
	if err != nil {
		return nil, err
	}
	online, err := s.loadContent(ctx, t)
	if err != nil {
		return nil, err
	}

	rows := merge.Preview(local, online)
	defaults := merge.DefaultSelections(rows)
	src := merge.Sources{Base: online, Local: local}
	count, err := merge.CountRealChanges(src, defaults, merge.Options{ActorIsMainOwner: t.IsMain()})
	if err != nil {
		return nil, err
	}

	return &PreviewResult{Rows: rows, Defaults: defaults, RealChanges: count}, nil
}

// PreviewApplyRequest commits a two-way preview.
type PreviewApplyRequest struct {
	Local        json.RawMessage   `json:"local"`
	Selections   []merge.Selection `json:"selections"`
	Deletions    []string          `json:"deletions"`
	ExpectedHash string            `json:"expected_hash,omitempty"`
	Token        string            `json:"token,omitempty"` // set when the flow started from a preview token
}

// PreviewApply commits a selection set from a two-way preview into the
// caller's document. Cleared manual selections (empty-string edits) are
// dropped first. When the flow carries a preview token, the token's
// result slot is set so the external client's completion stream observes
// the outcome even if it connects late.
func (s *MergeService) PreviewApply(ctx context.Context, userID, translationID string, req *PreviewApplyRequest) (*ApplyResult, error) {
	t, err := s.repo.GetByID(ctx, translationID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}

	local, err := parseStrict(req.Local)
	if err != nil {
		return nil, err
	}
	online, err := s.loadContent(ctx, t)
	if err != nil {
		return nil, err
	}

	selections := merge.DropCleared(req.Selections)
	src := merge.Sources{Base: online, Local: local}
	merged, err := merge.Apply(src, selections, req.Deletions, merge.Options{ActorIsMainOwner: t.IsMain()})
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, t, merged, req.ExpectedHash); err != nil {
		return nil, err
	}

	if req.Token != "" {
		s.completeToken(ctx, req.Token, t)
	}

	return &ApplyResult{
		Translation: t,
		Applied:     len(selections),
		Deleted:     len(req.Deletions),
	}, nil
}

// MintPreviewToken creates a single-use capability binding a local
// snapshot to the caller's document, for web-rendered comparison without
// a full login session. Expired tokens are garbage-collected here.
func (s *MergeService) MintPreviewToken(ctx context.Context, userID, translationID string, localRaw []byte) (*models.MergePreviewToken, error) {
	t, err := s.repo.GetByID(ctx, translationID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "not the owner of this translation"}
	}
	if _, err := parseStrict(localRaw); err != nil {
		return nil, err
	}

	if err := s.tokens.DeleteExpired(ctx); err != nil {
		s.logger.Warn("merge token GC failed", "error", err)
	}

	token := &models.MergePreviewToken{
		Token:         uuid.New().String(),
		TranslationID: t.ID,
		UserID:        userID,
		LocalContent:  localRaw,
		ExpiresAt:     time.Now().Add(models.MergeTokenTTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// RedeemPreviewToken resolves a token to its bound document and snapshot
// and deletes it, making the capability strictly single-use. Unknown and
// expired tokens are indistinguishable: the token is the authentication.
func (s *MergeService) RedeemPreviewToken(ctx context.Context, token string) (*models.MergePreviewToken, error) {
	t, err := s.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Delete(ctx, token); err != nil {
		return nil, err
	}
	return t, nil
}

// completeToken records a merge completion for the token's stream.
func (s *MergeService) completeToken(ctx context.Context, token string, t *models.Translation) {
	payload, err := json.Marshal(map[string]any{
		"translation_id": t.ID,
		"file_hash":      t.FileHash,
		"line_count":     t.LineCount,
	})
	if err != nil {
		s.logger.Warn("merge completion payload marshal failed", "error", err)
		return
	}
	s.bus.SetResult(ctx, notify.PreviewKey(token), payload)
	s.bus.Bump(ctx, notify.PreviewKey(token))
}
