package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// ErrNotRequeueable means the item is not in a state manual requeue accepts.
var ErrNotRequeueable = errors.New("discovery item is not in a failed state")

type DiscoveryRepo interface {
	// UpsertPending creates a pending row for the term, or refreshes an
	// existing pending row. Completed and failed rows are left untouched:
	// a settled term is never resurrected by a new search miss.
	UpsertPending(ctx context.Context, tx *gorm.DB, item *domain.DiscoveryItem) error
	// ClaimNextEligible picks the oldest pending row whose NextAttemptAt
	// has passed and flips it to processing with a conditional update.
	// Returns nil when nothing is eligible.
	ClaimNextEligible(ctx context.Context, tx *gorm.DB, now time.Time) (*domain.DiscoveryItem, error)
	GetByID(ctx context.Context, tx *gorm.DB, ingredientID string) (*domain.DiscoveryItem, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status domain.DiscoveryStatus, limit int) ([]*domain.DiscoveryItem, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, ingredientID string, grade domain.EvidenceGrade, studyCount int) error
	MarkFailed(ctx context.Context, tx *gorm.DB, ingredientID string, retryCount int, grade domain.EvidenceGrade, studyCount int, lastError string) error
	// Reschedule returns a transiently failed item to pending with its new
	// retry count and eligibility time.
	Reschedule(ctx context.Context, tx *gorm.DB, ingredientID string, retryCount int, nextAttemptAt time.Time, grade domain.EvidenceGrade, studyCount int, lastError string) error
	// Requeue resets a permanently failed item for manual reprocessing.
	Requeue(ctx context.Context, tx *gorm.DB, ingredientID string) error
}

type discoveryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDiscoveryRepo(db *gorm.DB, baseLog *logger.Logger) DiscoveryRepo {
	return &discoveryRepo{db: db, log: baseLog.With("repo", "DiscoveryRepo")}
}

func (r *discoveryRepo) UpsertPending(ctx context.Context, tx *gorm.DB, item *domain.DiscoveryItem) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if item == nil || item.IngredientID == "" {
		return errors.New("discovery item requires an ingredient id")
	}
	now := time.Now().UTC()
	item.Status = domain.DiscoveryPending
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = now
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ingredient_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"query":          item.Query,
				"search_context": item.SearchContext,
				"evidence_grade": item.EvidenceGrade,
				"study_count":    item.StudyCount,
				"updated_at":     now,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("discovery_queue.status = ?", domain.DiscoveryPending),
			}},
		}).
		Create(item).Error
}

func (r *discoveryRepo) ClaimNextEligible(ctx context.Context, tx *gorm.DB, now time.Time) (*domain.DiscoveryItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	// Compare-and-swap on status instead of read-then-write: losing the
	// race on the conditional update just means another worker owns the
	// item, so we move on to the next candidate.
	const maxCandidates = 5
	for attempt := 0; attempt < maxCandidates; attempt++ {
		var item domain.DiscoveryItem
		err := transaction.WithContext(ctx).
			Where("status = ? AND next_attempt_at <= ?", domain.DiscoveryPending, now).
			Order("next_attempt_at ASC, created_at ASC").
			Limit(1).
			Find(&item).Error
		if err != nil {
			return nil, err
		}
		if item.IngredientID == "" {
			return nil, nil
		}
		res := transaction.WithContext(ctx).
			Model(&domain.DiscoveryItem{}).
			Where("ingredient_id = ? AND status = ?", item.IngredientID, domain.DiscoveryPending).
			Updates(map[string]interface{}{
				"status":     domain.DiscoveryProcessing,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			item.Status = domain.DiscoveryProcessing
			return &item, nil
		}
	}
	return nil, nil
}

func (r *discoveryRepo) GetByID(ctx context.Context, tx *gorm.DB, ingredientID string) (*domain.DiscoveryItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ingredientID == "" {
		return nil, nil
	}
	var item domain.DiscoveryItem
	err := transaction.WithContext(ctx).Where("ingredient_id = ?", ingredientID).Limit(1).Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.IngredientID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *discoveryRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status domain.DiscoveryStatus, limit int) ([]*domain.DiscoveryItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.DiscoveryItem
	q := transaction.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *discoveryRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, ingredientID string, grade domain.EvidenceGrade, studyCount int) error {
	now := time.Now().UTC()
	return r.updateFields(ctx, tx, ingredientID, map[string]interface{}{
		"status":         domain.DiscoveryCompleted,
		"evidence_grade": grade,
		"study_count":    studyCount,
		"last_error":     "",
		"processed_at":   now,
		"updated_at":     now,
	})
}

func (r *discoveryRepo) MarkFailed(ctx context.Context, tx *gorm.DB, ingredientID string, retryCount int, grade domain.EvidenceGrade, studyCount int, lastError string) error {
	now := time.Now().UTC()
	if lastError == "" {
		lastError = "unknown failure"
	}
	return r.updateFields(ctx, tx, ingredientID, map[string]interface{}{
		"status":         domain.DiscoveryFailed,
		"retry_count":    retryCount,
		"evidence_grade": grade,
		"study_count":    studyCount,
		"last_error":     lastError,
		"processed_at":   now,
		"updated_at":     now,
	})
}

func (r *discoveryRepo) Reschedule(ctx context.Context, tx *gorm.DB, ingredientID string, retryCount int, nextAttemptAt time.Time, grade domain.EvidenceGrade, studyCount int, lastError string) error {
	return r.updateFields(ctx, tx, ingredientID, map[string]interface{}{
		"status":          domain.DiscoveryPending,
		"retry_count":     retryCount,
		"evidence_grade":  grade,
		"study_count":     studyCount,
		"last_error":      lastError,
		"next_attempt_at": nextAttemptAt,
		"updated_at":      time.Now().UTC(),
	})
}

func (r *discoveryRepo) Requeue(ctx context.Context, tx *gorm.DB, ingredientID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&domain.DiscoveryItem{}).
		Where("ingredient_id = ? AND status = ?", ingredientID, domain.DiscoveryFailed).
		Updates(map[string]interface{}{
			"status":          domain.DiscoveryPending,
			"retry_count":     0,
			"last_error":      "",
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotRequeueable
	}
	return nil
}

func (r *discoveryRepo) updateFields(ctx context.Context, tx *gorm.DB, ingredientID string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ingredientID == "" {
		return errors.New("ingredient id required")
	}
	return transaction.WithContext(ctx).
		Model(&domain.DiscoveryItem{}).
		Where("ingredient_id = ?", ingredientID).
		Updates(updates).Error
}
