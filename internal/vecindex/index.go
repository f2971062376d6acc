// Package vecindex is the in-process cosine-similarity index over supplement
// records. Postgres is the system of record; the index keeps a full mirror
// of every row's vector in memory so the read path never touches the
// database for scoring.
package vecindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

const DefaultMinSimilarity = 0.85

type Match struct {
	Record     domain.SupplementRecord
	Similarity float64
}

type entry struct {
	id     int64
	vector []float32
	record domain.SupplementRecord
}

type Index struct {
	log  *logger.Logger
	repo repos.SupplementRepo

	mu   sync.RWMutex
	rows []entry
	byID map[int64]int
}

func New(log *logger.Logger, repo repos.SupplementRepo) *Index {
	return &Index{
		log:  log.With("component", "VectorIndex"),
		repo: repo,
		byID: make(map[int64]int),
	}
}

// Load hydrates the mirror from the record store. Rows with malformed or
// mis-sized vectors are skipped with a warning rather than poisoning the
// whole index.
func (ix *Index) Load(ctx context.Context) error {
	recs, err := ix.repo.ListAll(ctx, nil)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	rows := make([]entry, 0, len(recs))
	byID := make(map[int64]int, len(recs))
	skipped := 0
	for _, rec := range recs {
		vec, vErr := rec.VectorValues()
		if vErr != nil || len(vec) != domain.VectorDim {
			ix.log.Warn("Skipping record with unusable vector", "id", rec.ID, "name", rec.Name, "error", vErr)
			skipped++
			continue
		}
		byID[rec.ID] = len(rows)
		rows = append(rows, entry{id: rec.ID, vector: vec, record: *rec})
	}
	ix.mu.Lock()
	ix.rows = rows
	ix.byID = byID
	ix.mu.Unlock()
	ix.log.Info("Vector index loaded", "records", len(rows), "skipped", skipped)
	return nil
}

// Insert appends a new record. The database write happens first; the
// mirror only learns about rows the store accepted, so a lost duplicate
// race never leaves a phantom entry.
func (ix *Index) Insert(ctx context.Context, rec *domain.SupplementRecord, vec []float32) (*domain.SupplementRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil record")
	}
	if len(vec) != domain.VectorDim {
		return nil, fmt.Errorf("vector dimension mismatch: expected=%d got=%d", domain.VectorDim, len(vec))
	}
	if err := rec.SetVector(vec); err != nil {
		return nil, err
	}
	created, err := ix.repo.Create(ctx, nil, rec)
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	ix.byID[created.ID] = len(ix.rows)
	ix.rows = append(ix.rows, entry{id: created.ID, vector: vec, record: *created})
	ix.mu.Unlock()
	return created, nil
}

// Query scores the probe vector against every stored vector, drops results
// below minSimilarity, and returns the top k ordered by similarity
// descending with ties broken by lower id (earlier-inserted wins).
func (ix *Index) Query(vec []float32, k int, minSimilarity float64) []Match {
	if len(vec) != domain.VectorDim || k <= 0 {
		return nil
	}
	ix.mu.RLock()
	matches := make([]Match, 0, k)
	for i := range ix.rows {
		sim := cosine(vec, ix.rows[i].vector)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{Record: ix.rows[i].record, Similarity: sim})
	}
	ix.mu.RUnlock()
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		return matches[a].Record.ID < matches[b].Record.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Update applies a partial update to a record and refreshes the mirror.
// It returns the record's name before and after the update so the caller
// can invalidate the cache for both.
func (ix *Index) Update(ctx context.Context, id int64, updates map[string]interface{}) (oldName, newName string, err error) {
	current, err := ix.repo.GetByID(ctx, nil, id)
	if err != nil {
		return "", "", err
	}
	if current == nil {
		return "", "", gorm.ErrRecordNotFound
	}
	oldName = current.Name
	if name, ok := updates["name"].(string); ok && name != "" {
		updates["name_key"] = domain.NormalizeName(name)
	}
	if err := ix.repo.UpdateFields(ctx, nil, id, updates); err != nil {
		return oldName, "", err
	}
	refreshed, err := ix.repo.GetByID(ctx, nil, id)
	if err != nil || refreshed == nil {
		return oldName, "", fmt.Errorf("reload updated record %d: %w", id, err)
	}
	newName = refreshed.Name

	vec, vErr := refreshed.VectorValues()
	ix.mu.Lock()
	if pos, ok := ix.byID[id]; ok {
		ix.rows[pos].record = *refreshed
		if vErr == nil && len(vec) == domain.VectorDim {
			ix.rows[pos].vector = vec
		}
	}
	ix.mu.Unlock()
	return oldName, newName, nil
}

func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
