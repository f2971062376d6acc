package repos

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// ErrDuplicateName means an active record with the same canonical name is
// already indexed; callers update instead of inserting again.
var ErrDuplicateName = errors.New("supplement name already indexed")

type SupplementRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *domain.SupplementRecord) (*domain.SupplementRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, id int64) (*domain.SupplementRecord, error)
	GetByNameKey(ctx context.Context, tx *gorm.DB, nameKey string) (*domain.SupplementRecord, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*domain.SupplementRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error
	IncrementSearchCount(ctx context.Context, tx *gorm.DB, id int64) error
}

type supplementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSupplementRepo(db *gorm.DB, baseLog *logger.Logger) SupplementRepo {
	return &supplementRepo{db: db, log: baseLog.With("repo", "SupplementRepo")}
}

func (r *supplementRepo) Create(ctx context.Context, tx *gorm.DB, rec *domain.SupplementRecord) (*domain.SupplementRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil {
		return nil, errors.New("nil record")
	}
	now := time.Now().UTC()
	rec.NameKey = domain.NormalizeName(rec.Name)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.LastSearchedAt.IsZero() {
		rec.LastSearchedAt = now
	}
	if err := transaction.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return rec, nil
}

func (r *supplementRepo) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*domain.SupplementRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec domain.SupplementRecord
	err := transaction.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *supplementRepo) GetByNameKey(ctx context.Context, tx *gorm.DB, nameKey string) (*domain.SupplementRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if nameKey == "" {
		return nil, nil
	}
	var rec domain.SupplementRecord
	err := transaction.WithContext(ctx).Where("name_key = ?", nameKey).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *supplementRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*domain.SupplementRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.SupplementRecord
	if err := transaction.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *supplementRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	err := transaction.WithContext(ctx).
		Model(&domain.SupplementRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	return err
}

func (r *supplementRepo) IncrementSearchCount(ctx context.Context, tx *gorm.DB, id int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&domain.SupplementRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"search_count":     gorm.Expr("search_count + 1"),
			"last_searched_at": now,
			"updated_at":       now,
		}).Error
}

// isUniqueViolation catches the conflict both through gorm's translated
// sentinel and through the raw pg error code, since TranslateError does not
// cover every driver path.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
