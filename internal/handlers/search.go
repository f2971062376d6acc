package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suplementia/search-backend/internal/platform/ctxutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/services"
)

// Searcher is the search service surface the handler consumes.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*services.SearchResult, error)
}

type SearchHandler struct {
	log           *logger.Logger
	searchService Searcher
}

func NewSearchHandler(baseLog *logger.Logger, searchService Searcher) *SearchHandler {
	return &SearchHandler{
		log:           baseLog.With("handler", "SearchHandler"),
		searchService: searchService,
	}
}

// Search is GET /api/search?q=<term>&limit=<n>. A hit answers 200; a miss
// that could not be resolved even by discovery answers 404 with the reason.
func (h *SearchHandler) Search(c *gin.Context) {
	q := c.Query("q")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}

	result, err := h.searchService.Search(c.Request.Context(), q, limit)
	if err != nil {
		h.log.Error("Search failed",
			"query", q,
			"request_id", ctxutil.RequestID(c.Request.Context()),
			"error", err,
		)
		RespondAPIError(c, err)
		return
	}

	if !result.Found {
		body := gin.H{
			"success": false,
			"query":   result.Query,
			"reason":  result.Reason,
			"message": result.Message,
		}
		if result.StudyCount != nil {
			body["studyCount"] = *result.StudyCount
		}
		if result.Reason == services.ReasonPending {
			body["suggestion"] = "retry this search shortly"
		} else {
			body["suggestion"] = "check the spelling or try an alternative supplement name"
		}
		c.JSON(http.StatusNotFound, body)
		return
	}

	source := "index"
	switch {
	case result.CacheHit:
		source = "cache"
	case result.Discovered:
		source = "discovery"
	}
	RespondOK(c, gin.H{
		"success":            true,
		"supplement":         result.Supplement,
		"similarity":         result.Supplement.Similarity,
		"cacheHit":           result.CacheHit,
		"source":             source,
		"alternativeMatches": result.Alternatives,
		"tookMs":             result.TookMs,
	})
}
