package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/redis"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/evidence"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/vecindex"
)

type fakeValidator struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
	calls  int
}

func (f *fakeValidator) Count(ctx context.Context, term string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[domain.NormalizeName(term)], nil
}

type fakeEmbedder struct {
	mu  sync.Mutex
	err error
	// failAfter > 0 lets that many calls succeed, then fails the rest
	// transiently.
	failAfter int
	calls     int
}

// vectorFor spreads terms across axes so distinct terms never collide.
func vectorFor(term string) []float32 {
	vec := make([]float32, domain.VectorDim)
	key := domain.NormalizeName(term)
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	vec[h%domain.VectorDim] = 1
	return vec
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, openai.ErrEmbeddingUnavailable
	}
	return vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedding" }

type fakeIndex struct {
	mu     sync.Mutex
	nextID int64
	rows   []vecindex.Match
	vecs   [][]float32
	keys   map[string]bool
	err    error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{keys: make(map[string]bool)}
}

func (f *fakeIndex) Insert(ctx context.Context, rec *domain.SupplementRecord, vec []float32) (*domain.SupplementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := domain.NormalizeName(rec.Name)
	if f.keys[key] {
		return nil, repos.ErrDuplicateName
	}
	f.keys[key] = true
	f.nextID++
	rec.ID = f.nextID
	rec.NameKey = key
	f.rows = append(f.rows, vecindex.Match{Record: *rec})
	f.vecs = append(f.vecs, vec)
	return rec, nil
}

func (f *fakeIndex) Query(vec []float32, k int, minSimilarity float64) []vecindex.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vecindex.Match
	for i := range f.rows {
		var dot float64
		for j := range vec {
			dot += float64(vec[j]) * float64(f.vecs[i][j])
		}
		if dot < minSimilarity {
			continue
		}
		m := f.rows[i]
		m.Similarity = dot
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*redis.Entry
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*redis.Entry)}
}

func (f *fakeCache) Get(ctx context.Context, name string) (*redis.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[domain.NormalizeName(name)], nil
}

func (f *fakeCache) Set(ctx context.Context, name string, entry *redis.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[domain.NormalizeName(name)] = entry
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, names ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		key := domain.NormalizeName(n)
		delete(f.entries, key)
		f.invalidated = append(f.invalidated, key)
	}
	return nil
}

func (f *fakeCache) Close() error { return nil }

type fakeQueue struct {
	mu    sync.Mutex
	items map[string]*domain.DiscoveryItem
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: make(map[string]*domain.DiscoveryItem)}
}

func (f *fakeQueue) UpsertPending(ctx context.Context, tx *gorm.DB, item *domain.DiscoveryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.items[item.IngredientID]; ok {
		if existing.Status != domain.DiscoveryPending {
			return nil
		}
	}
	cp := *item
	cp.Status = domain.DiscoveryPending
	f.items[item.IngredientID] = &cp
	return nil
}

func (f *fakeQueue) ClaimNextEligible(ctx context.Context, tx *gorm.DB, now time.Time) (*domain.DiscoveryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.Status == domain.DiscoveryPending && !item.NextAttemptAt.After(now) {
			item.Status = domain.DiscoveryProcessing
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeQueue) GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.DiscoveryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeQueue) ListByStatus(ctx context.Context, tx *gorm.DB, status domain.DiscoveryStatus, limit int) ([]*domain.DiscoveryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.DiscoveryItem
	for _, item := range f.items {
		if status == "" || item.Status == status {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeQueue) MarkCompleted(ctx context.Context, tx *gorm.DB, id string, grade domain.EvidenceGrade, studyCount int) error {
	return f.update(id, func(item *domain.DiscoveryItem) {
		item.Status = domain.DiscoveryCompleted
		item.EvidenceGrade = grade
		item.StudyCount = studyCount
	})
}

func (f *fakeQueue) MarkFailed(ctx context.Context, tx *gorm.DB, id string, retryCount int, grade domain.EvidenceGrade, studyCount int, lastError string) error {
	return f.update(id, func(item *domain.DiscoveryItem) {
		item.Status = domain.DiscoveryFailed
		item.RetryCount = retryCount
		item.EvidenceGrade = grade
		item.StudyCount = studyCount
		item.LastError = lastError
	})
}

func (f *fakeQueue) Reschedule(ctx context.Context, tx *gorm.DB, id string, retryCount int, nextAttemptAt time.Time, grade domain.EvidenceGrade, studyCount int, lastError string) error {
	return f.update(id, func(item *domain.DiscoveryItem) {
		item.Status = domain.DiscoveryPending
		item.RetryCount = retryCount
		item.NextAttemptAt = nextAttemptAt
		item.EvidenceGrade = grade
		item.StudyCount = studyCount
		item.LastError = lastError
	})
}

func (f *fakeQueue) Requeue(ctx context.Context, tx *gorm.DB, id string) error {
	return f.update(id, func(item *domain.DiscoveryItem) {
		item.Status = domain.DiscoveryPending
		item.RetryCount = 0
		item.LastError = ""
	})
}

func (f *fakeQueue) update(id string, fn func(*domain.DiscoveryItem)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return errors.New("no such discovery item: " + id)
	}
	fn(item)
	return nil
}

type fakeSupplementRepo struct {
	mu         sync.Mutex
	increments map[int64]int
}

func newFakeSupplementRepo() *fakeSupplementRepo {
	return &fakeSupplementRepo{increments: make(map[int64]int)}
}

func (f *fakeSupplementRepo) Create(ctx context.Context, tx *gorm.DB, rec *domain.SupplementRecord) (*domain.SupplementRecord, error) {
	return rec, nil
}

func (f *fakeSupplementRepo) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*domain.SupplementRecord, error) {
	return nil, nil
}

func (f *fakeSupplementRepo) GetByNameKey(ctx context.Context, tx *gorm.DB, nameKey string) (*domain.SupplementRecord, error) {
	return nil, nil
}

func (f *fakeSupplementRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*domain.SupplementRecord, error) {
	return nil, nil
}

func (f *fakeSupplementRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	return nil
}

func (f *fakeSupplementRepo) IncrementSearchCount(ctx context.Context, tx *gorm.DB, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments[id]++
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MinStudies: evidence.DefaultMinStudies,
		Budget:     10 * time.Second,
		MaxRetries: 3,
		BaseDelay:  60 * time.Second,
		Multiplier: 5,
		JitterFrac: 0,
	}
}
