package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/pubmed"
	"github.com/suplementia/search-backend/internal/clients/redis"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/evidence"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/vecindex"
)

// VectorIndex is the slice of the index the discovery and search paths use.
type VectorIndex interface {
	Insert(ctx context.Context, rec *domain.SupplementRecord, vec []float32) (*domain.SupplementRecord, error)
	Query(vec []float32, k int, minSimilarity float64) []vecindex.Match
}

type DiscoveryConfig struct {
	MinStudies int
	// Budget bounds the whole synchronous validate-embed-insert-requery
	// sequence; it is the only cancellation signal on that path.
	Budget     time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	JitterFrac float64
}

func DiscoveryConfigFromEnv() DiscoveryConfig {
	return DiscoveryConfig{
		MinStudies: envutil.Int("MIN_STUDIES", evidence.DefaultMinStudies),
		Budget:     envutil.Duration("DISCOVERY_BUDGET", 10*time.Second),
		MaxRetries: envutil.Int("DISCOVERY_MAX_RETRIES", 3),
		BaseDelay:  envutil.Duration("RETRY_BASE_DELAY", 60*time.Second),
		Multiplier: envutil.Float("RETRY_MULTIPLIER", 5),
		JitterFrac: envutil.Float("RETRY_JITTER_FRAC", 1.0/6.0),
	}
}

// DiscoveryOutcome is what one discovery attempt resolved to.
type DiscoveryOutcome struct {
	Indexed    bool
	StudyCount int
	Grade      domain.EvidenceGrade
	// Reason is set when Indexed is false: "insufficient_studies" for a
	// permanent rejection, "pending" when the term was queued for
	// background retry.
	Reason  string
	Message string
}

const (
	ReasonInsufficientStudies = "insufficient_studies"
	ReasonPending             = "pending"
)

type DiscoveryService struct {
	log       *logger.Logger
	validator pubmed.Client
	embedder  openai.EmbeddingClient
	index     VectorIndex
	queue     repos.DiscoveryRepo
	cache     redis.SupplementCache
	cfg       DiscoveryConfig

	// random feeds backoff jitter; now feeds eligibility times. Both are
	// injected so the retry arithmetic is testable.
	random func() float64
	now    func() time.Time

	sf singleflight.Group
}

func NewDiscoveryService(
	baseLog *logger.Logger,
	validator pubmed.Client,
	embedder openai.EmbeddingClient,
	index VectorIndex,
	queue repos.DiscoveryRepo,
	cache redis.SupplementCache,
	cfg DiscoveryConfig,
	random func() float64,
) *DiscoveryService {
	return &DiscoveryService{
		log:       baseLog.With("service", "DiscoveryService"),
		validator: validator,
		embedder:  embedder,
		index:     index,
		queue:     queue,
		cache:     cache,
		cfg:       cfg,
		random:    random,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DiscoverSync runs the synchronous discovery sequence for a term that just
// missed the index. Concurrent callers for the same normalized term within
// this process share one attempt.
func (s *DiscoveryService) DiscoverSync(ctx context.Context, query string) *DiscoveryOutcome {
	term := strings.TrimSpace(query)
	key := domain.NormalizeName(term)

	v, _, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.discover(ctx, term, key), nil
	})
	outcome, ok := v.(*DiscoveryOutcome)
	if !ok || outcome == nil {
		return &DiscoveryOutcome{Reason: ReasonPending, Message: "discovery did not complete"}
	}
	return outcome
}

func (s *DiscoveryService) discover(parent context.Context, term, key string) *DiscoveryOutcome {
	ctx, cancel := context.WithTimeout(parent, s.cfg.Budget)
	defer cancel()
	ctx, span := otel.Tracer("discovery").Start(ctx, "discovery.sync")
	span.SetAttributes(attribute.String("discovery.term", key))
	defer span.End()
	start := s.now()

	count, err := s.validator.Count(ctx, term)
	if err != nil {
		s.log.Warn("Sync discovery validation failed",
			"term", term, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		s.enqueue(parent, term, key, 0, "", err)
		return &DiscoveryOutcome{
			Reason:  ReasonPending,
			Message: "Supplement not found yet; discovery will continue in the background",
		}
	}

	grade := evidence.Grade(count)
	if !evidence.Sufficient(count, s.cfg.MinStudies) {
		// Permanent rejection: the evidence source answered, the answer
		// will not change, so there is nothing to queue.
		s.log.Info("Sync discovery rejected term",
			"term", term, "study_count", count, "min_studies", s.cfg.MinStudies)
		return &DiscoveryOutcome{
			StudyCount: count,
			Grade:      grade,
			Reason:     ReasonInsufficientStudies,
			Message:    fmt.Sprintf("Only %d studies found (minimum: %d)", count, s.cfg.MinStudies),
		}
	}

	vec, err := s.embedder.Embed(ctx, term)
	if err != nil {
		s.log.Warn("Sync discovery embedding failed", "term", term, "error", err)
		s.enqueue(parent, term, key, count, grade, err)
		return &DiscoveryOutcome{
			StudyCount: count,
			Grade:      grade,
			Reason:     ReasonPending,
			Message:    "Supplement validated; indexing will complete in the background",
		}
	}

	rec := s.newRecord(term, count, grade, domain.MethodSync)
	if _, err := s.index.Insert(ctx, rec, vec); err != nil && !errors.Is(err, repos.ErrDuplicateName) {
		s.log.Warn("Sync discovery insert failed", "term", term, "error", err)
		s.enqueue(parent, term, key, count, grade, err)
		return &DiscoveryOutcome{
			StudyCount: count,
			Grade:      grade,
			Reason:     ReasonPending,
			Message:    "Supplement validated; indexing will complete in the background",
		}
	}
	// A duplicate means a concurrent request won the insert race; the
	// caller's re-query will find that writer's record.

	if cacheErr := s.cache.Invalidate(parent, term); cacheErr != nil {
		s.log.Warn("Cache invalidation failed after sync discovery", "term", term, "error", cacheErr)
	}

	s.log.Info("Sync discovery indexed term",
		"term", term,
		"study_count", count,
		"evidence_grade", grade,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &DiscoveryOutcome{Indexed: true, StudyCount: count, Grade: grade}
}

// ProcessClaimed re-runs the discovery sequence for a queue item the worker
// has claimed, then settles the item's state.
func (s *DiscoveryService) ProcessClaimed(ctx context.Context, item *domain.DiscoveryItem) error {
	if item == nil {
		return errors.New("nil discovery item")
	}
	ctx, span := otel.Tracer("discovery").Start(ctx, "discovery.async")
	span.SetAttributes(
		attribute.String("discovery.term", item.IngredientID),
		attribute.Int("discovery.retry_count", item.RetryCount),
	)
	defer span.End()
	start := s.now()

	count, err := s.validator.Count(ctx, item.Query)
	if err != nil {
		return s.settleTransient(ctx, item, item.EvidenceGrade, item.StudyCount, err, start)
	}

	grade := evidence.Grade(count)
	if !evidence.Sufficient(count, s.cfg.MinStudies) {
		lastErr := fmt.Sprintf("%v: %d studies (minimum %d)", evidence.ErrInsufficientEvidence, count, s.cfg.MinStudies)
		if err := s.queue.MarkFailed(ctx, nil, item.IngredientID, item.RetryCount, grade, count, lastErr); err != nil {
			return err
		}
		s.logTransition(item, domain.DiscoveryProcessing, domain.DiscoveryFailed, item.RetryCount, start)
		return nil
	}

	vec, err := s.embedder.Embed(ctx, item.Query)
	if err != nil {
		return s.settleTransient(ctx, item, grade, count, err, start)
	}

	rec := s.newRecord(item.Query, count, grade, domain.MethodAsync)
	if _, err := s.index.Insert(ctx, rec, vec); err != nil && !errors.Is(err, repos.ErrDuplicateName) {
		return s.settleTransient(ctx, item, grade, count, err, start)
	}

	if cacheErr := s.cache.Invalidate(ctx, item.Query); cacheErr != nil {
		s.log.Warn("Cache invalidation failed after async discovery", "term", item.Query, "error", cacheErr)
	}
	if err := s.queue.MarkCompleted(ctx, nil, item.IngredientID, grade, count); err != nil {
		return err
	}
	s.logTransition(item, domain.DiscoveryProcessing, domain.DiscoveryCompleted, item.RetryCount, start)
	return nil
}

func (s *DiscoveryService) settleTransient(ctx context.Context, item *domain.DiscoveryItem, grade domain.EvidenceGrade, count int, cause error, start time.Time) error {
	// An item gets MaxRetries reschedules; the failure after the last
	// rescheduled attempt is terminal.
	if item.RetryCount >= s.cfg.MaxRetries {
		if err := s.queue.MarkFailed(ctx, nil, item.IngredientID, item.RetryCount, grade, count, cause.Error()); err != nil {
			return err
		}
		s.logTransition(item, domain.DiscoveryProcessing, domain.DiscoveryFailed, item.RetryCount, start)
		return nil
	}
	next := item.RetryCount + 1
	delay := Jittered(Delay(s.cfg.BaseDelay, s.cfg.Multiplier, item.RetryCount), s.cfg.JitterFrac, s.random)
	nextAttempt := s.now().Add(delay)
	if err := s.queue.Reschedule(ctx, nil, item.IngredientID, next, nextAttempt, grade, count, cause.Error()); err != nil {
		return err
	}
	s.log.Info("Discovery state transition",
		"term", item.Query,
		"from", domain.DiscoveryProcessing,
		"to", domain.DiscoveryPending,
		"retry_count", next,
		"next_attempt_at", nextAttempt,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"error", cause,
	)
	return nil
}

func (s *DiscoveryService) logTransition(item *domain.DiscoveryItem, from, to domain.DiscoveryStatus, retryCount int, start time.Time) {
	s.log.Info("Discovery state transition",
		"term", item.Query,
		"from", from,
		"to", to,
		"retry_count", retryCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func (s *DiscoveryService) newRecord(term string, count int, grade domain.EvidenceGrade, method domain.DiscoveryMethod) *domain.SupplementRecord {
	rec := &domain.SupplementRecord{
		Name:            term,
		Category:        "auto-discovered",
		EvidenceGrade:   grade,
		StudyCount:      count,
		PubmedQuery:     pubmed.BuildQuery(term),
		DiscoveryMethod: method,
	}
	_ = rec.SetCommonNames(nil)
	return rec
}

func (s *DiscoveryService) enqueue(ctx context.Context, term, key string, count int, grade domain.EvidenceGrade, cause error) {
	// The request budget may already be spent; the queue write gets its
	// own short deadline.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	searchContext, _ := json.Marshal(map[string]interface{}{
		"query":        term,
		"requested_at": s.now().Format(time.RFC3339),
		"cause":        cause.Error(),
	})
	item := &domain.DiscoveryItem{
		IngredientID:  key,
		Query:         term,
		StudyCount:    count,
		EvidenceGrade: grade,
		SearchContext: datatypes.JSON(searchContext),
		NextAttemptAt: s.now(),
	}
	if err := s.queue.UpsertPending(qctx, nil, item); err != nil {
		s.log.Error("Failed to enqueue discovery item", "term", term, "error", err)
		return
	}
	s.log.Info("Discovery state transition",
		"term", term,
		"from", "none",
		"to", domain.DiscoveryPending,
		"retry_count", 0,
	)
}
