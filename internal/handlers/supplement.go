package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/redis"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/evidence"
	"github.com/suplementia/search-backend/internal/platform/apierr"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// SupplementIndex is the write surface of the vector index the handler
// needs; the read path goes through the repo.
type SupplementIndex interface {
	Insert(ctx context.Context, rec *domain.SupplementRecord, vec []float32) (*domain.SupplementRecord, error)
	Update(ctx context.Context, id int64, updates map[string]interface{}) (oldName, newName string, err error)
}

type SupplementHandler struct {
	log      *logger.Logger
	embedder openai.EmbeddingClient
	index    SupplementIndex
	repo     repos.SupplementRepo
	cache    redis.SupplementCache
}

func NewSupplementHandler(
	baseLog *logger.Logger,
	embedder openai.EmbeddingClient,
	index SupplementIndex,
	repo repos.SupplementRepo,
	cache redis.SupplementCache,
) *SupplementHandler {
	return &SupplementHandler{
		log:      baseLog.With("handler", "SupplementHandler"),
		embedder: embedder,
		index:    index,
		repo:     repo,
		cache:    cache,
	}
}

// Create is POST /api/supplements: a direct insert that bypasses discovery.
// The evidence grade is derived from the submitted study count.
func (h *SupplementHandler) Create(c *gin.Context) {
	var req struct {
		Name           string   `json:"name"`
		ScientificName string   `json:"scientific_name"`
		CommonNames    []string `json:"common_names"`
		Category       string   `json:"category"`
		StudyCount     int      `json:"study_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		RespondError(c, http.StatusBadRequest, "missing_name", errors.New("name is required"))
		return
	}
	if req.StudyCount < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_study_count", errors.New("study_count must not be negative"))
		return
	}

	ctx := c.Request.Context()
	vec, err := h.embedder.Embed(ctx, name)
	if err != nil {
		h.log.Error("Embedding failed on direct insert", "name", name, "error", err)
		RespondError(c, http.StatusServiceUnavailable, "embedding_unavailable", errors.New("embedding service unavailable"))
		return
	}

	rec := &domain.SupplementRecord{
		Name:            name,
		ScientificName:  strings.TrimSpace(req.ScientificName),
		Category:        req.Category,
		EvidenceGrade:   evidence.Grade(req.StudyCount),
		StudyCount:      req.StudyCount,
		DiscoveryMethod: domain.MethodLegacy,
	}
	if err := rec.SetCommonNames(req.CommonNames); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_common_names", err)
		return
	}

	created, err := h.index.Insert(ctx, rec, vec)
	if err != nil {
		if errors.Is(err, repos.ErrDuplicateName) {
			RespondAPIError(c, apierr.Conflict("duplicate_name", err))
			return
		}
		h.log.Error("Direct insert failed", "name", name, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("insert failed")))
		return
	}

	if err := h.cache.Invalidate(ctx, name); err != nil {
		h.log.Warn("Cache invalidation failed after insert", "name", name, "error", err)
	}
	c.JSON(http.StatusCreated, created)
}

// Get is GET /api/supplements/:id.
func (h *SupplementHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("id must be a positive integer"))
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.log.Error("Supplement lookup failed", "id", id, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("lookup failed")))
		return
	}
	if rec == nil {
		RespondAPIError(c, apierr.NotFound("not_found", errors.New("supplement not found")))
		return
	}
	RespondOK(c, rec)
}

// Update is PATCH /api/supplements/:id. Renames invalidate the cache under
// both the old and the new name.
func (h *SupplementHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("id must be a positive integer"))
		return
	}
	var req struct {
		Name           *string   `json:"name"`
		ScientificName *string   `json:"scientific_name"`
		CommonNames    *[]string `json:"common_names"`
		Category       *string   `json:"category"`
		StudyCount     *int      `json:"study_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			RespondError(c, http.StatusBadRequest, "missing_name", errors.New("name must not be empty"))
			return
		}
		updates["name"] = name
	}
	if req.ScientificName != nil {
		updates["scientific_name"] = strings.TrimSpace(*req.ScientificName)
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.StudyCount != nil {
		if *req.StudyCount < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_study_count", errors.New("study_count must not be negative"))
			return
		}
		updates["study_count"] = *req.StudyCount
		updates["evidence_grade"] = evidence.Grade(*req.StudyCount)
	}
	if req.CommonNames != nil {
		tmp := domain.SupplementRecord{}
		if err := tmp.SetCommonNames(*req.CommonNames); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_common_names", err)
			return
		}
		updates["common_names"] = tmp.CommonNames
	}
	if len(updates) == 0 {
		RespondError(c, http.StatusBadRequest, "empty_update", errors.New("no updatable fields in body"))
		return
	}

	ctx := c.Request.Context()
	oldName, newName, err := h.index.Update(ctx, id, updates)
	if err != nil {
		if errors.Is(err, repos.ErrDuplicateName) {
			RespondAPIError(c, apierr.Conflict("duplicate_name", err))
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondAPIError(c, apierr.NotFound("not_found", errors.New("supplement not found")))
			return
		}
		h.log.Error("Supplement update failed", "id", id, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("update failed")))
		return
	}

	if err := h.cache.Invalidate(ctx, oldName, newName); err != nil {
		h.log.Warn("Cache invalidation failed after update", "id", id, "error", err)
	}

	rec, err := h.repo.GetByID(ctx, nil, id)
	if err != nil || rec == nil {
		h.log.Error("Reload after update failed", "id", id, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("update failed")))
		return
	}
	RespondOK(c, rec)
}
