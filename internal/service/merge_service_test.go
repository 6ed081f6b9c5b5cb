package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"crowdloc/internal/canonical"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/notify"
	"crowdloc/internal/service/merge"
)

// seedDocument stores raw content and creates a matching record.
func seedDocument(t *testing.T, repo *fakeTranslationRepo, blobs *memBlobs, doc *models.Translation, raw string) {
	t.Helper()
	ctx := context.Background()

	content, report, err := canonical.Parse([]byte(raw))
	if err != nil || report.Total > 0 {
		t.Fatalf("seed parse: %v (%+v)", err, report)
	}
	hash, err := canonical.Hash(content)
	if err != nil {
		t.Fatalf("seed hash: %v", err)
	}
	data, err := canonical.Marshal(content)
	if err != nil {
		t.Fatalf("seed marshal: %v", err)
	}

	doc.FileHash = hash
	doc.BlobPath = "translations/" + doc.ID + ".json"
	doc.ApplyCounters(content.LineCount(), content.Count())
	if err := blobs.Store(ctx, doc.BlobPath, data); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("seed create: %v", err)
	}
}

func newMergeFixture(t *testing.T) (*MergeService, *fakeTranslationRepo, *memBlobs, *fakeBus, *fakeMergeTokenRepo) {
	t.Helper()
	repo := newFakeTranslationRepo()
	blobs := newMemBlobs()
	bus := newFakeBus()
	tokens := newFakeMergeTokenRepo()
	svc := NewMergeService(repo, tokens, blobs, nopAudit{}, bus, testLogger())
	return svc, repo, blobs, bus, tokens
}

func TestMergeRowsAndApply(t *testing.T) {
	svc, repo, blobs, bus, _ := newMergeFixture(t)
	ctx := context.Background()

	seedDocument(t, repo, blobs, &models.Translation{
		ID: "main-1", LineageID: "L1", UserID: "alice", Visibility: models.VisibilityMain,
	}, `{"_uuid": "L1", "hello": {"value": "bonjour", "tag": "H"}}`)
	seedDocument(t, repo, blobs, &models.Translation{
		ID: "branch-1", LineageID: "L1", UserID: "bob", Visibility: models.VisibilityBranch,
	}, `{"_uuid": "L1", "hello": {"value": "salut", "tag": "A"}, "world": {"value": "monde", "tag": "A"}}`)

	rows, err := svc.MergeRows(ctx, "alice", "main-1", []string{"branch-1"}, nil)
	if err != nil {
		t.Fatalf("MergeRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	// Only the Main owner sees the merge view.
	if _, err := svc.MergeRows(ctx, "bob", "main-1", []string{"branch-1"}, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-owner rows: got %v, want forbidden", err)
	}
	// A branch cannot be a merge target.
	if _, err := svc.MergeRows(ctx, "bob", "branch-1", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("branch target: got %v, want validation error", err)
	}

	result, err := svc.ApplyMerge(ctx, "alice", "main-1", &ApplyRequest{
		BranchIDs: []string{"branch-1"},
		Selections: []merge.Selection{
			{Key: "hello", Source: merge.SourceBranch, BranchID: "branch-1"},
			{Key: "world", Source: merge.SourceBranch, BranchID: "branch-1"},
		},
	})
	if err != nil {
		t.Fatalf("ApplyMerge: %v", err)
	}
	if result.Applied != 2 {
		t.Errorf("applied = %d", result.Applied)
	}
	if result.Translation.ValidatedCount != 2 || result.Translation.HumanCount != 0 {
		t.Errorf("counters after merge: %+v", result.Translation)
	}

	// The persisted blob reflects the merge.
	data, _ := blobs.Read(ctx, "translations/main-1.json")
	content, _, err := canonical.Parse(data)
	if err != nil {
		t.Fatalf("reparse merged blob: %v", err)
	}
	hello := content.Entries["hello"]
	if *hello.Value != "salut" || hello.Tag != models.TagValidated {
		t.Errorf("merged entry: %+v", hello)
	}

	if n, _ := bus.Current(ctx, notify.LineageKey("L1")); n != 1 {
		t.Errorf("lineage counter = %d after merge", n)
	}

	// The record digest matches the blob digest.
	after, _ := repo.GetByID(ctx, "main-1")
	rehash, _ := canonical.HashRaw(data)
	if after.FileHash != rehash {
		t.Errorf("record digest %s != blob digest %s", after.FileHash, rehash)
	}
}

func TestApplyMergeDigestConflict(t *testing.T) {
	svc, repo, blobs, _, _ := newMergeFixture(t)
	ctx := context.Background()

	seedDocument(t, repo, blobs, &models.Translation{
		ID: "main-1", LineageID: "L1", UserID: "alice", Visibility: models.VisibilityMain,
	}, `{"_uuid": "L1", "k": {"value": "v", "tag": "H"}}`)

	seeded, _ := repo.GetByID(ctx, "main-1")
	staleHash := seeded.FileHash
	before, _ := blobs.Read(ctx, "translations/main-1.json")

	// Another writer commits after this client computed its selections.
	repo.mu.Lock()
	repo.docs["main-1"].FileHash = "someone-else-won"
	repo.mu.Unlock()

	_, err := svc.ApplyMerge(ctx, "alice", "main-1", &ApplyRequest{
		Selections:   []merge.Selection{{Key: "k", Source: merge.SourceManual, Value: strp("edited")}},
		ExpectedHash: staleHash,
	})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want digest conflict", err)
	}
	if conflict.CurrentHash != "someone-else-won" {
		t.Errorf("conflict carries %q, want the current digest", conflict.CurrentHash)
	}
	if conflict.ExpectedHash != staleHash {
		t.Errorf("conflict carries %q, want the client's digest", conflict.ExpectedHash)
	}

	// The losing write must not have touched the stored content.
	after, _ := blobs.Read(ctx, "translations/main-1.json")
	if string(after) != string(before) {
		t.Errorf("conflicting write reached the blob store:\n%s", after)
	}
}

func TestPreviewAndApply(t *testing.T) {
	svc, repo, blobs, _, _ := newMergeFixture(t)
	ctx := context.Background()

	seedDocument(t, repo, blobs, &models.Translation{
		ID: "doc-1", LineageID: "L1", UserID: "alice", Visibility: models.VisibilityMain,
	}, `{"_uuid": "L1", "keep": {"value": "server", "tag": "H"}, "stale": {"value": "old", "tag": "A"}}`)

	local := `{"_uuid": "L1", "keep": {"value": "local", "tag": "A"}, "stale": {"value": "new", "tag": "H"}, "added": "fresh"}`

	preview, err := svc.Preview(ctx, "alice", "doc-1", []byte(local))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(preview.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(preview.Rows))
	}
	// added (new key) + stale (H beats A); keep stays online.
	if preview.RealChanges != 2 {
		t.Errorf("real changes = %d, want 2", preview.RealChanges)
	}

	if _, err := svc.Preview(ctx, "bob", "doc-1", []byte(local)); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign preview: got %v, want forbidden", err)
	}

	result, err := svc.PreviewApply(ctx, "alice", "doc-1", &PreviewApplyRequest{
		Local:      json.RawMessage(local),
		Selections: preview.Defaults,
	})
	if err != nil {
		t.Fatalf("PreviewApply: %v", err)
	}

	data, _ := blobs.Read(ctx, "translations/doc-1.json")
	content, _, _ := canonical.Parse(data)
	if *content.Entries["keep"].Value != "server" {
		t.Errorf("tie/priority loss overwrote the server value")
	}
	if *content.Entries["stale"].Value != "new" || content.Entries["stale"].Tag != models.TagHuman {
		t.Errorf("higher-priority local entry not taken: %+v", content.Entries["stale"])
	}
	added := content.Entries["added"]
	if *added.Value != "fresh" || added.Tag != models.TagValidated {
		t.Errorf("local addition: %+v", added)
	}
	if result.Translation.FileHash == "" {
		t.Errorf("digest not refreshed")
	}
}

func TestPreviewTokenLifecycle(t *testing.T) {
	svc, repo, blobs, bus, _ := newMergeFixture(t)
	ctx := context.Background()

	seedDocument(t, repo, blobs, &models.Translation{
		ID: "doc-1", LineageID: "L1", UserID: "alice", Visibility: models.VisibilityMain,
	}, `{"_uuid": "L1", "k": {"value": "v", "tag": "A"}}`)

	local := []byte(`{"_uuid": "L1", "k": {"value": "w", "tag": "H"}}`)

	token, err := svc.MintPreviewToken(ctx, "alice", "doc-1", local)
	if err != nil {
		t.Fatalf("MintPreviewToken: %v", err)
	}
	if token.Token == "" || token.TranslationID != "doc-1" {
		t.Fatalf("token = %+v", token)
	}

	// Only the owner can mint.
	if _, err := svc.MintPreviewToken(ctx, "bob", "doc-1", local); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign mint: got %v, want forbidden", err)
	}

	redeemed, err := svc.RedeemPreviewToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("RedeemPreviewToken: %v", err)
	}
	if string(redeemed.LocalContent) != string(local) {
		t.Errorf("redeemed snapshot does not round-trip")
	}

	// Single use.
	if _, err := svc.RedeemPreviewToken(ctx, token.Token); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second redemption: got %v, want not found", err)
	}

	// Committing with the token records the completion for the stream.
	_, err = svc.PreviewApply(ctx, "alice", "doc-1", &PreviewApplyRequest{
		Local:      json.RawMessage(local),
		Selections: []merge.Selection{{Key: "k", Source: merge.SourceLocal}},
		Token:      token.Token,
	})
	if err != nil {
		t.Fatalf("PreviewApply: %v", err)
	}
	payload, err := bus.TakeResult(ctx, notify.PreviewKey(token.Token))
	if err != nil || payload == nil {
		t.Fatalf("completion slot empty")
	}
	var completed struct {
		TranslationID string `json:"translation_id"`
		FileHash      string `json:"file_hash"`
	}
	if err := json.Unmarshal(payload, &completed); err != nil {
		t.Fatalf("completion payload: %v", err)
	}
	if completed.TranslationID != "doc-1" || completed.FileHash == "" {
		t.Errorf("completion payload: %+v", completed)
	}
}

func strp(s string) *string { return &s }
