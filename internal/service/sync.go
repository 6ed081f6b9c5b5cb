package service

import (
	"context"
	"errors"
	"log/slog"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
)

// SyncService answers lineage state questions for clients that hold a
// local copy: what role does the caller play on the lineage, and does
// their local digest still match the server.
type SyncService struct {
	repo   repositories.TranslationRepository
	users  repositories.UserDirectory
	logger *slog.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	repo repositories.TranslationRepository,
	users repositories.UserDirectory,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{repo: repo, users: users, logger: logger}
}

// BuildState resolves the caller's relationship to a lineage. When the
// caller owns a document on the lineage the state carries it, plus the
// branch count when it is the Main. Otherwise the state previews the
// lineage's Main so the client can offer branching. localHash, when
// non-empty, is compared against the relevant server digest.
func (s *SyncService) BuildState(ctx context.Context, userID, lineageID, localHash string) (*models.SyncState, error) {
	state := &models.SyncState{LineageID: lineageID, Role: models.SyncRoleNone}

	own, err := s.repo.GetByLineageAndUser(ctx, lineageID, userID)
	switch {
	case err == nil:
		state.Translation = own
		if own.IsMain() {
			state.Role = models.SyncRoleMain
			count, err := s.repo.CountBranches(ctx, lineageID)
			if err != nil {
				return nil, err
			}
			state.BranchCount = count
		} else {
			state.Role = models.SyncRoleBranch
		}
		if localHash != "" {
			matches := localHash == own.FileHash
			state.HashMatches = &matches
		}
		return state, nil

	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	main, err := s.repo.GetMainByLineage(ctx, lineageID)
	if errors.Is(err, domain.ErrNotFound) {
		// nothing on the server yet; the client's copy would become the Main
		return state, nil
	}
	if err != nil {
		return nil, err
	}

	preview := &models.MainPreview{
		TranslationID: main.ID,
		SourceLang:    main.SourceLang,
		TargetLang:    main.TargetLang,
		FileHash:      main.FileHash,
		LineCount:     main.LineCount,
	}
	if user, err := s.users.GetByID(ctx, main.UserID); err == nil {
		preview.UploaderName = user.Name
	} else {
		s.logger.Warn("uploader lookup failed", "user_id", main.UserID, "error", err)
	}
	state.Main = preview

	if localHash != "" {
		matches := localHash == main.FileHash
		state.HashMatches = &matches
	}
	return state, nil
}
