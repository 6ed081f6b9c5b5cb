package service

import (
	"context"
	"errors"
	"testing"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
)

func seedTranslation(repo *fakeTranslationRepo, id, userID string) {
	repo.Create(context.Background(), &models.Translation{
		ID:         id,
		LineageID:  "L1",
		UserID:     userID,
		Visibility: models.VisibilityMain,
	})
}

func TestVoteCastToggleAndFlip(t *testing.T) {
	repo := newFakeTranslationRepo()
	seedTranslation(repo, "t1", "alice")
	svc := NewVoteService(repo, newFakeVoteRepo(), passthroughTx{}, newFakeBus(), testLogger())
	ctx := context.Background()

	// New vote applies its value.
	res, err := svc.Cast(ctx, "bob", "t1", 1)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if res.VoteCount != 1 || res.YourVote != 1 {
		t.Errorf("first cast: %+v", res)
	}

	// Same value toggles off.
	res, err = svc.Cast(ctx, "bob", "t1", 1)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if res.VoteCount != 0 || res.YourVote != 0 {
		t.Errorf("toggle off: %+v", res)
	}

	// Re-vote then flip: -1 from +1 moves the count by 2.
	if _, err := svc.Cast(ctx, "bob", "t1", 1); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	res, err = svc.Cast(ctx, "bob", "t1", -1)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if res.VoteCount != -1 || res.YourVote != -1 {
		t.Errorf("flip: %+v", res)
	}

	vote, err := svc.YourVote(ctx, "bob", "t1")
	if err != nil || vote != -1 {
		t.Errorf("YourVote = %d, %v", vote, err)
	}
}

func TestVoteCastIndependentVoters(t *testing.T) {
	repo := newFakeTranslationRepo()
	seedTranslation(repo, "t1", "alice")
	svc := NewVoteService(repo, newFakeVoteRepo(), passthroughTx{}, newFakeBus(), testLogger())
	ctx := context.Background()

	svc.Cast(ctx, "bob", "t1", 1)
	res, err := svc.Cast(ctx, "carol", "t1", 1)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if res.VoteCount != 2 {
		t.Errorf("vote count = %d, want 2", res.VoteCount)
	}
}

func TestVoteCastRejections(t *testing.T) {
	repo := newFakeTranslationRepo()
	seedTranslation(repo, "t1", "alice")
	svc := NewVoteService(repo, newFakeVoteRepo(), passthroughTx{}, newFakeBus(), testLogger())
	ctx := context.Background()

	if _, err := svc.Cast(ctx, "alice", "t1", 1); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("own document: got %v, want forbidden", err)
	}
	if _, err := svc.Cast(ctx, "bob", "t1", 2); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad value: got %v, want validation error", err)
	}
	if _, err := svc.Cast(ctx, "bob", "missing", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing document: got %v, want not found", err)
	}
}

func TestYourVoteDefaultsToZero(t *testing.T) {
	repo := newFakeTranslationRepo()
	seedTranslation(repo, "t1", "alice")
	svc := NewVoteService(repo, newFakeVoteRepo(), passthroughTx{}, newFakeBus(), testLogger())

	vote, err := svc.YourVote(context.Background(), "bob", "t1")
	if err != nil || vote != 0 {
		t.Errorf("YourVote = %d, %v; want 0, nil", vote, err)
	}
}
