package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RiskLevel is one of five ordered buckets over the display score
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "VERY LOW"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY HIGH"
)

// RiskAssessment is the explainable output of the risk engine
type RiskAssessment struct {
	Score          int            `json:"score"`
	RawScore       int            `json:"raw_score"`
	Level          RiskLevel      `json:"level"`
	Color          string         `json:"color"`
	Warnings       []string       `json:"warnings"`
	Breakdown      map[string]int `json:"breakdown"`
	Recommendation string         `json:"recommendation"`
}

// AnalyzerStatus reports which signal providers contributed
type AnalyzerStatus struct {
	Sentiment       bool `json:"sentiment"`
	AIImage         bool `json:"ai_image"`
	ImageSimilarity bool `json:"image_similarity"`
}

// AnalysisResults carries the raw signals; nil means the provider was skipped or failed
type AnalysisResults struct {
	Sentiment       *SentimentSummary       `json:"sentiment"`
	AIImage         *AIImageVerdict         `json:"ai_image"`
	ImageSimilarity *ImageSimilarityVerdict `json:"image_similarity"`
}

// ReceiptSummary echoes what was received from the extension
type ReceiptSummary struct {
	ReviewCount       int `json:"review_count"`
	ReviewsWithPhotos int `json:"reviews_with_photos"`
	ListingImages     int `json:"listing_images"`
}

// AnalyzeResponse is the full analysis for one listing, as cached and served
type AnalyzeResponse struct {
	AnalysisID     string          `json:"analysis_id"`
	URL            string          `json:"url"`
	Status         string          `json:"status"`
	Received       ReceiptSummary  `json:"received"`
	Analyzers      AnalyzerStatus  `json:"analyzers"`
	Results        AnalysisResults `json:"results"`
	Risk           RiskAssessment  `json:"risk"`
	AnalyzedAt     time.Time       `json:"analyzed_at"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	FromCache      bool            `json:"from_cache"`
	CachedAt       *time.Time      `json:"cached_at,omitempty"`
}

// CacheClearRequest clears one listing when URL is set, otherwise everything
type CacheClearRequest struct {
	URL string `json:"url"`
}

// CacheClearResponse reports the outcome of a clear
type CacheClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse describes service readiness
type StatusResponse struct {
	Status           string         `json:"status"`
	Analyzers        AnalyzerStatus `json:"analyzers"`
	Cache            bool           `json:"cache_enabled"`
	History          bool           `json:"history_enabled"`
	HistoryReachable bool           `json:"history_reachable"` // history store answered a ping
}

// AssessmentLog is one persisted analysis
type AssessmentLog struct {
	ID             int64          `db:"id" json:"id"`
	AnalysisID     string         `db:"analysis_id" json:"analysis_id"`
	URL            string         `db:"url" json:"url"`
	Fingerprint    string         `db:"fingerprint" json:"fingerprint"`
	Score          int            `db:"score" json:"score"`
	RawScore       int            `db:"raw_score" json:"raw_score"`
	Level          string         `db:"level" json:"level"`
	Warnings       types.JSONText `db:"warnings" json:"warnings"`
	Breakdown      types.JSONText `db:"breakdown" json:"breakdown"`
	ResponseTimeMs int64          `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// AssessmentHistoryResponse lists past analyses of a listing
type AssessmentHistoryResponse struct {
	URL         string          `json:"url"`
	Assessments []AssessmentLog `json:"assessments"`
	Total       int             `json:"total"`
}
