package handler

import (
	"errors"
	"net/http"
	"strconv"

	"listing-inspector/internal/service"

	"github.com/gin-gonic/gin"
)

// AssessmentHandler serves past analyses recorded in PostgreSQL
type AssessmentHandler struct {
	analyzeService *service.AnalyzeService
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(analyzeService *service.AnalyzeService) *AssessmentHandler {
	return &AssessmentHandler{
		analyzeService: analyzeService,
	}
}

// List handles GET /api/v1/assessments?url=...&limit=...
func (h *AssessmentHandler) List(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	history, err := h.analyzeService.History(c.Request.Context(), url, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrHistoryDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Assessment history not configured"})
		case errors.Is(err, service.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load assessments: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, history)
}
