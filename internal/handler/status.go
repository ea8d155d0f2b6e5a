package handler

import (
	"net/http"

	"listing-inspector/internal/service"

	"github.com/gin-gonic/gin"
)

// BuildInfo is stamped into the binary with -ldflags
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// StatusHandler serves liveness, version and readiness endpoints
type StatusHandler struct {
	analyzeService *service.AnalyzeService
	build          BuildInfo
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(analyzeService *service.AnalyzeService, build BuildInfo) *StatusHandler {
	return &StatusHandler{
		analyzeService: analyzeService,
		build:          build,
	}
}

// Health handles GET /health
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "listing-inspector",
		"version":    h.build.Version,
		"build_time": h.build.BuildTime,
		"git_commit": h.build.GitCommit,
	})
}

// Version handles GET /version
func (h *StatusHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    h.build.Version,
		"build_time": h.build.BuildTime,
		"git_commit": h.build.GitCommit,
	})
}

// Status handles GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.analyzeService.Status(c.Request.Context()))
}
