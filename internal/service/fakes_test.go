package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
	"crowdloc/internal/notify"
)

// In-memory collaborators for service tests.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranslationRepo struct {
	mu   sync.Mutex
	docs map[string]*models.Translation
}

func newFakeTranslationRepo() *fakeTranslationRepo {
	return &fakeTranslationRepo{docs: make(map[string]*models.Translation)}
}

func (r *fakeTranslationRepo) clone(t *models.Translation) *models.Translation {
	c := *t
	return &c
}

func (r *fakeTranslationRepo) Create(ctx context.Context, t *models.Translation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.CreatedAt = time.Now()
	r.docs[t.ID] = r.clone(t)
	return nil
}

func (r *fakeTranslationRepo) GetByID(ctx context.Context, id string) (*models.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.clone(t), nil
}

func (r *fakeTranslationRepo) GetMainByLineage(ctx context.Context, lineageID string) (*models.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.Translation
	for _, t := range r.docs {
		if t.LineageID == lineageID && t.IsMain() {
			if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
				oldest = t
			}
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	return r.clone(oldest), nil
}

func (r *fakeTranslationRepo) GetByLineageAndUser(ctx context.Context, lineageID, userID string) (*models.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.docs {
		if t.LineageID == lineageID && t.UserID == userID {
			return r.clone(t), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTranslationRepo) ListBranches(ctx context.Context, lineageID string) ([]models.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Translation
	for _, t := range r.docs {
		if t.LineageID == lineageID && !t.IsMain() {
			out = append(out, *r.clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTranslationRepo) CountBranches(ctx context.Context, lineageID string) (int, error) {
	branches, _ := r.ListBranches(ctx, lineageID)
	return len(branches), nil
}

func (r *fakeTranslationRepo) ListByUser(ctx context.Context, userID string) ([]models.Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Translation
	for _, t := range r.docs {
		if t.UserID == userID {
			out = append(out, *r.clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTranslationRepo) UpdateContent(ctx context.Context, id string, upd repositories.ContentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.FileHash != upd.ExpectedHash {
		return &domain.ConflictError{
			Message:      "translation was modified concurrently",
			ExpectedHash: upd.ExpectedHash,
			CurrentHash:  t.FileHash,
		}
	}
	t.FileHash = upd.FileHash
	t.ApplyCounters(upd.LineCount, upd.Counters)
	t.UpdatedAt = time.Now()
	return nil
}

func (r *fakeTranslationRepo) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTranslationRepo) Detach(ctx context.Context, id, newLineageID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.LineageID = newLineageID
	t.Visibility = models.VisibilityMain
	t.FileHash = newHash
	return nil
}

func (r *fakeTranslationRepo) AdjustVoteCount(ctx context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.VoteCount += delta
	return nil
}

func (r *fakeTranslationRepo) IncrementDownloadCount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.DownloadCount++
	return nil
}

func (r *fakeTranslationRepo) LockForVote(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (r *fakeTranslationRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return domain.ErrNotFound
	}
	for _, t := range r.docs {
		if t.ParentID != nil && *t.ParentID == id {
			t.ParentID = nil
		}
	}
	delete(r.docs, id)
	return nil
}

type fakeVoteRepo struct {
	mu    sync.Mutex
	votes map[string]*models.Vote // translationID+"/"+userID
}

func newFakeVoteRepo() *fakeVoteRepo {
	return &fakeVoteRepo{votes: make(map[string]*models.Vote)}
}

func (r *fakeVoteRepo) Get(ctx context.Context, translationID, userID string) (*models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.votes[translationID+"/"+userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r *fakeVoteRepo) Upsert(ctx context.Context, vote *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *vote
	r.votes[vote.TranslationID+"/"+vote.UserID] = &c
	return nil
}

func (r *fakeVoteRepo) Delete(ctx context.Context, translationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.votes, translationID+"/"+userID)
	return nil
}

type fakeDeviceCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*models.DeviceCode // by device code
}

func newFakeDeviceCodeRepo() *fakeDeviceCodeRepo {
	return &fakeDeviceCodeRepo{codes: make(map[string]*models.DeviceCode)}
}

func (r *fakeDeviceCodeRepo) Create(ctx context.Context, code *models.DeviceCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *code
	r.codes[code.DeviceCode] = &c
	return nil
}

func (r *fakeDeviceCodeRepo) GetByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[deviceCode]
	if !ok || c.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *fakeDeviceCodeRepo) GetByUserCode(ctx context.Context, userCode string) (*models.DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.UserCode == userCode && !c.Expired(time.Now()) {
			cc := *c
			return &cc, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeDeviceCodeRepo) UserCodeTaken(ctx context.Context, userCode string) (bool, error) {
	_, err := r.GetByUserCode(ctx, userCode)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (r *fakeDeviceCodeRepo) Authorize(ctx context.Context, userCode, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.UserCode == userCode && c.UserID == nil && !c.Expired(time.Now()) {
			c.UserID = &userID
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeDeviceCodeRepo) Delete(ctx context.Context, deviceCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, deviceCode)
	return nil
}

func (r *fakeDeviceCodeRepo) DeleteExpired(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for k, c := range r.codes {
		if c.Expired(now) {
			delete(r.codes, k)
		}
	}
	return nil
}

type fakeMergeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.MergePreviewToken
}

func newFakeMergeTokenRepo() *fakeMergeTokenRepo {
	return &fakeMergeTokenRepo{tokens: make(map[string]*models.MergePreviewToken)}
}

func (r *fakeMergeTokenRepo) Create(ctx context.Context, token *models.MergePreviewToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *token
	r.tokens[token.Token] = &c
	return nil
}

func (r *fakeMergeTokenRepo) Get(ctx context.Context, token string) (*models.MergePreviewToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || t.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *fakeMergeTokenRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *fakeMergeTokenRepo) DeleteExpired(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for k, t := range r.tokens {
		if t.Expired(now) {
			delete(r.tokens, k)
		}
	}
	return nil
}

type memBlobs struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	storeErr error // next Store fails with this, once
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) failNextStore(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.storeErr = err
}

func (b *memBlobs) Store(ctx context.Context, path string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.storeErr != nil {
		err := b.storeErr
		b.storeErr = nil
		return err
	}
	b.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Read(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlobs) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := b.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, path)
	return nil
}

type fakeUsers struct {
	users map[string]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, entry repositories.AuditEntry) {}

// fakeBus records bumps and carries result slots; Subscribe is unused in
// service tests.
type fakeBus struct {
	mu       sync.Mutex
	counters map[string]int64
	results  map[string][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{counters: make(map[string]int64), results: make(map[string][]byte)}
}

func (b *fakeBus) Bump(ctx context.Context, keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		b.counters[k]++
	}
}

func (b *fakeBus) Current(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters[key], nil
}

func (b *fakeBus) Publish(ctx context.Context, topic string, payload []byte) {}

func (b *fakeBus) Subscribe(ctx context.Context, topic string) (<-chan notify.Event, func(), error) {
	ch := make(chan notify.Event)
	return ch, func() {}, nil
}

func (b *fakeBus) SetResult(ctx context.Context, key string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[key] = append([]byte(nil), payload...)
}

func (b *fakeBus) TakeResult(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.results[key]
	if !ok {
		return nil, nil
	}
	delete(b.results, key)
	return payload, nil
}

type passthroughTx struct{}

func (passthroughTx) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}
