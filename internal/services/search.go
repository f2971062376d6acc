package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/redis"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/apierr"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/vecindex"
)

const (
	minQueryLen     = 2
	maxQueryLen     = 200
	defaultLimit    = 5
	maxLimit        = 20
	maxAlternatives = 4
)

// SupplementView is the API shape of an indexed record.
type SupplementView struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	ScientificName  string   `json:"scientific_name,omitempty"`
	CommonNames     []string `json:"common_names"`
	Category        string   `json:"category,omitempty"`
	EvidenceGrade   string   `json:"evidence_grade"`
	StudyCount      int      `json:"study_count"`
	DiscoveryMethod string   `json:"discovery_method"`
	Similarity      float64  `json:"similarity"`
}

// SearchResult is the full response for one search, found or not.
type SearchResult struct {
	Found        bool             `json:"found"`
	Query        string           `json:"query"`
	Supplement   *SupplementView  `json:"supplement,omitempty"`
	Alternatives []SupplementView `json:"alternatives,omitempty"`
	// Reason and Message describe a miss: "insufficient_studies" or
	// "pending".
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	StudyCount *int   `json:"study_count,omitempty"`
	CacheHit   bool   `json:"cache_hit"`
	Discovered bool   `json:"discovered"`
	TookMs     int64  `json:"took_ms"`
}

type SearchService struct {
	log       *logger.Logger
	embedder  openai.EmbeddingClient
	index     VectorIndex
	repo      repos.SupplementRepo
	cache     redis.SupplementCache
	discovery *DiscoveryService

	minSimilarity float64
	now           func() time.Time
}

func NewSearchService(
	baseLog *logger.Logger,
	embedder openai.EmbeddingClient,
	index VectorIndex,
	repo repos.SupplementRepo,
	cache redis.SupplementCache,
	discovery *DiscoveryService,
) *SearchService {
	return &SearchService{
		log:           baseLog.With("service", "SearchService"),
		embedder:      embedder,
		index:         index,
		repo:          repo,
		cache:         cache,
		discovery:     discovery,
		minSimilarity: envutil.Float("SIMILARITY_THRESHOLD", vecindex.DefaultMinSimilarity),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Search resolves a free-text query to the closest indexed supplement,
// triggering synchronous discovery when nothing in the index is close
// enough.
func (s *SearchService) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	start := s.now()
	term := strings.TrimSpace(query)
	if len(term) < minQueryLen || len(term) > maxQueryLen {
		return nil, apierr.BadRequest("invalid_query", errors.New("query must be between 2 and 200 characters"))
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if entry, err := s.cache.Get(ctx, term); err != nil {
		s.log.Warn("Cache lookup failed", "term", term, "error", err)
	} else if entry != nil {
		s.bumpSearchCount(ctx, entry.Record.ID)
		result := &SearchResult{
			Found:      true,
			Query:      term,
			Supplement: viewOf(entry.Record, entry.Similarity),
			CacheHit:   true,
			TookMs:     time.Since(start).Milliseconds(),
		}
		return result, nil
	}

	vec, err := s.embedder.Embed(ctx, term)
	if err != nil {
		s.log.Error("Query embedding failed", "term", term, "error", err)
		return nil, apierr.New(http.StatusInternalServerError, "embedding_unavailable", err)
	}

	if result := s.resolve(ctx, term, vec, limit, false, start); result != nil {
		return result, nil
	}

	outcome := s.discovery.DiscoverSync(ctx, term)
	if outcome.Indexed {
		if result := s.resolve(ctx, term, vec, limit, true, start); result != nil {
			return result, nil
		}
		// Indexed but still under the similarity floor against its own
		// query embedding should not happen; report it as pending rather
		// than lying about a hit.
		s.log.Error("Discovered record did not match its own query", "term", term)
	}

	// The miss body always reports the evidence gathered so far, even when
	// the term was only queued: a pending retry keeps its partial count.
	count := outcome.StudyCount
	return &SearchResult{
		Found:      false,
		Query:      term,
		Reason:     outcome.Reason,
		Message:    outcome.Message,
		StudyCount: &count,
		TookMs:     time.Since(start).Milliseconds(),
	}, nil
}

// resolve runs the index query and, on a hit, fills the caches and counters.
// Returns nil on a miss so the caller can fall through to discovery.
func (s *SearchService) resolve(ctx context.Context, term string, vec []float32, limit int, discovered bool, start time.Time) *SearchResult {
	matches := s.index.Query(vec, limit, s.minSimilarity)
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	alternatives := make([]SupplementView, 0, maxAlternatives)
	for _, m := range matches[1:] {
		if len(alternatives) == maxAlternatives {
			break
		}
		alternatives = append(alternatives, *viewOf(m.Record, m.Similarity))
	}

	s.bumpSearchCount(ctx, best.Record.ID)
	if err := s.cache.Set(ctx, term, &redis.Entry{Record: best.Record, Similarity: best.Similarity}); err != nil {
		s.log.Warn("Cache write failed", "term", term, "error", err)
	}

	return &SearchResult{
		Found:        true,
		Query:        term,
		Supplement:   viewOf(best.Record, best.Similarity),
		Alternatives: alternatives,
		Discovered:   discovered,
		TookMs:       time.Since(start).Milliseconds(),
	}
}

func (s *SearchService) bumpSearchCount(ctx context.Context, id int64) {
	if err := s.repo.IncrementSearchCount(ctx, nil, id); err != nil {
		s.log.Warn("Search count increment failed", "id", id, "error", err)
	}
}

func viewOf(rec domain.SupplementRecord, similarity float64) *SupplementView {
	return &SupplementView{
		ID:              rec.ID,
		Name:            rec.Name,
		ScientificName:  rec.ScientificName,
		CommonNames:     rec.CommonNameList(),
		Category:        rec.Category,
		EvidenceGrade:   string(rec.EvidenceGrade),
		StudyCount:      rec.StudyCount,
		DiscoveryMethod: string(rec.DiscoveryMethod),
		Similarity:      similarity,
	}
}
