package handler

import (
	"errors"
	"io"
	"net/http"

	"listing-inspector/internal/model"
	"listing-inspector/internal/service"

	"github.com/gin-gonic/gin"
)

// CacheHandler exposes the result cache for inspection and invalidation
type CacheHandler struct {
	analyzeService *service.AnalyzeService
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(analyzeService *service.AnalyzeService) *CacheHandler {
	return &CacheHandler{
		analyzeService: analyzeService,
	}
}

// Stats handles GET /api/v1/cache/stats
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.analyzeService.CacheStats()
	if err != nil {
		cacheError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// Clear handles POST /api/v1/cache/clear. An empty body clears everything.
func (h *CacheHandler) Clear(c *gin.Context) {
	var req model.CacheClearRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	response, err := h.analyzeService.ClearCache(req.URL)
	if err != nil {
		cacheError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func cacheError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrCacheDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Cache not initialized"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
}
