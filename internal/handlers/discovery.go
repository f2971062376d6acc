package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/apierr"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

type DiscoveryHandler struct {
	log   *logger.Logger
	queue repos.DiscoveryRepo
}

func NewDiscoveryHandler(baseLog *logger.Logger, queue repos.DiscoveryRepo) *DiscoveryHandler {
	return &DiscoveryHandler{
		log:   baseLog.With("handler", "DiscoveryHandler"),
		queue: queue,
	}
}

// List is GET /api/discovery?status=&limit=. Status empty lists everything.
func (h *DiscoveryHandler) List(c *gin.Context) {
	status := domain.DiscoveryStatus(c.Query("status"))
	switch status {
	case "", domain.DiscoveryPending, domain.DiscoveryProcessing, domain.DiscoveryCompleted, domain.DiscoveryFailed:
	default:
		RespondError(c, http.StatusBadRequest, "invalid_status", errors.New("unknown discovery status"))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	items, err := h.queue.ListByStatus(c.Request.Context(), nil, status, limit)
	if err != nil {
		h.log.Error("Discovery listing failed", "status", status, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("list failed")))
		return
	}
	RespondOK(c, gin.H{"items": items, "count": len(items)})
}

// Get is GET /api/discovery/:term. The path segment is the raw term; lookup
// is by its normalized form.
func (h *DiscoveryHandler) Get(c *gin.Context) {
	key := domain.NormalizeName(c.Param("term"))
	if key == "" {
		RespondError(c, http.StatusBadRequest, "invalid_term", errors.New("term is required"))
		return
	}
	item, err := h.queue.GetByID(c.Request.Context(), nil, key)
	if err != nil {
		h.log.Error("Discovery lookup failed", "term", key, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("lookup failed")))
		return
	}
	if item == nil {
		RespondAPIError(c, apierr.NotFound("not_found", errors.New("no discovery entry for term")))
		return
	}
	RespondOK(c, item)
}

// Requeue is POST /api/discovery/:term/requeue. Only permanently failed
// items can be requeued; the retry budget starts over.
func (h *DiscoveryHandler) Requeue(c *gin.Context) {
	key := domain.NormalizeName(c.Param("term"))
	if key == "" {
		RespondError(c, http.StatusBadRequest, "invalid_term", errors.New("term is required"))
		return
	}
	err := h.queue.Requeue(c.Request.Context(), nil, key)
	if err != nil {
		if errors.Is(err, repos.ErrNotRequeueable) {
			RespondAPIError(c, apierr.Conflict("not_requeueable", err))
			return
		}
		h.log.Error("Requeue failed", "term", key, "error", err)
		RespondAPIError(c, apierr.Internal(errors.New("requeue failed")))
		return
	}
	h.log.Info("Discovery item requeued", "term", key)
	RespondOK(c, gin.H{"success": true, "term": key})
}
