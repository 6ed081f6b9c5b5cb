package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
	"crowdloc/internal/notify"
)

// VoteService applies toggle-style votes on translations. The whole
// read-then-write sequence runs inside a transaction under a per-row
// lock so concurrent votes on the same document serialize.
type VoteService struct {
	repo   repositories.TranslationRepository
	votes  repositories.VoteRepository
	txMgr  repositories.TransactionManager
	bus    notify.Bus
	logger *slog.Logger
}

// NewVoteService creates a new vote service
func NewVoteService(
	repo repositories.TranslationRepository,
	votes repositories.VoteRepository,
	txMgr repositories.TransactionManager,
	bus notify.Bus,
	logger *slog.Logger,
) *VoteService {
	return &VoteService{
		repo:   repo,
		votes:  votes,
		txMgr:  txMgr,
		bus:    bus,
		logger: logger,
	}
}

// VoteResult reports the outcome of a cast.
type VoteResult struct {
	TranslationID string `json:"translation_id"`
	VoteCount     int    `json:"vote_count"`
	// YourVote is the caller's vote after the cast: +1, -1, or 0 when
	// the cast toggled an identical vote off.
	YourVote int `json:"your_vote"`
}

// Cast applies one vote. Same value as the existing vote removes it;
// the opposite value flips it; no existing vote records it. Voting on
// your own document is rejected.
func (s *VoteService) Cast(ctx context.Context, userID, translationID string, value int) (*VoteResult, error) {
	if value != 1 && value != -1 {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("vote value must be 1 or -1, got %d", value)}
	}

	var result *VoteResult
	err := s.txMgr.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockForVote(ctx, translationID); err != nil {
			return err
		}
		t, err := s.repo.GetByID(ctx, translationID)
		if err != nil {
			return err
		}
		if t.UserID == userID {
			return &domain.ForbiddenError{Message: "cannot vote on your own translation"}
		}

		existing, err := s.votes.Get(ctx, translationID, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		var delta, yourVote int
		switch {
		case existing == nil:
			delta, yourVote = value, value
			if err := s.votes.Upsert(ctx, &models.Vote{
				TranslationID: translationID,
				UserID:        userID,
				Value:         value,
			}); err != nil {
				return err
			}
		case existing.Value == value:
			// toggle off
			delta, yourVote = -value, 0
			if err := s.votes.Delete(ctx, translationID, userID); err != nil {
				return err
			}
		default:
			// flip
			delta, yourVote = 2*value, value
			if err := s.votes.Upsert(ctx, &models.Vote{
				TranslationID: translationID,
				UserID:        userID,
				Value:         value,
			}); err != nil {
				return err
			}
		}

		if err := s.repo.AdjustVoteCount(ctx, translationID, delta); err != nil {
			return err
		}
		result = &VoteResult{
			TranslationID: translationID,
			VoteCount:     t.VoteCount + delta,
			YourVote:      yourVote,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Bump(ctx, notify.TranslationKey(translationID))
	s.logger.Debug("vote cast", "translation_id", translationID, "your_vote", result.YourVote)
	return result, nil
}

// YourVote returns the caller's current vote on a translation: +1, -1,
// or 0 when none exists.
func (s *VoteService) YourVote(ctx context.Context, userID, translationID string) (int, error) {
	vote, err := s.votes.Get(ctx, translationID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return vote.Value, nil
}
