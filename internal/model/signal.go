package model

// Sentiment categories
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// ReviewSentiment is the polarity of one analyzed review
type ReviewSentiment struct {
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// SuspiciousReview is a review whose stars contradict its text
type SuspiciousReview struct {
	Index    int     `json:"review_index"`
	Text     string  `json:"text"`
	Rating   int     `json:"rating"`
	Score    float64 `json:"sentiment_score"`
	Category string  `json:"sentiment_category"`
	Reason   string  `json:"reason"`
}

// SentimentSummary aggregates review polarity for a listing
type SentimentSummary struct {
	TotalReviews      int                `json:"total_reviews"`
	AnalyzedReviews   int                `json:"analyzed_reviews"`
	Reviews           []ReviewSentiment  `json:"review_sentiments"`
	Counts            map[string]int     `json:"sentiment_distribution"`
	Percentages       map[string]float64 `json:"sentiment_percentages"`
	MismatchCount     int                `json:"sentiment_rating_mismatch_count"`
	AverageSentiment  float64            `json:"average_sentiment"`
	SuspiciousReviews []SuspiciousReview `json:"suspicious_reviews"`
	Model             string             `json:"model,omitempty"`
}

// PositivePercentage is 0 when nothing was analyzed
func (s *SentimentSummary) PositivePercentage() float64 {
	if s == nil || s.Percentages == nil {
		return 0
	}
	return s.Percentages[SentimentPositive]
}

// AIImageVerdict is the AI-generation verdict for the primary listing image
type AIImageVerdict struct {
	ImageURL          string   `json:"image_url"`
	Detected          bool     `json:"is_ai_generated"`
	Confidence        int      `json:"confidence"`
	HasSynthID        bool     `json:"has_synthid"`
	SynthIDConfidence int      `json:"synthid_confidence"`
	SynthIDLocation   string   `json:"synthid_location,omitempty"`
	Indicators        []string `json:"indicators,omitempty"`
	Explanation       string   `json:"explanation,omitempty"`
	Method            string   `json:"method"` // full_analysis or fallback
	Model             string   `json:"model,omitempty"`
}

// Similarity verdict labels
const (
	MatchVerdictMatch       = "MATCH"
	MatchVerdictLikelyMatch = "LIKELY_MATCH"
	MatchVerdictUnclear     = "UNCLEAR"
	MatchVerdictMismatch    = "MISMATCH"
	MatchVerdictError       = "ERROR"
)

// ImageComparison is the best listing match for one review photo
type ImageComparison struct {
	ReviewIndex  int     `json:"review_image_index"`
	ReviewImage  string  `json:"review_image"`
	ListingImage string  `json:"best_listing_image,omitempty"`
	Similarity   float64 `json:"cosine_similarity"`
	MatchScore   float64 `json:"match_score"`
	Verdict      string  `json:"verdict"`
	Confidence   string  `json:"confidence"`
	SameProduct  bool    `json:"same_product"`
	Explanation  string  `json:"explanation"`
}

// ImageSimilarityVerdict summarizes review-photo vs listing-photo comparisons
type ImageSimilarityVerdict struct {
	Analyzed              bool              `json:"analyzed"`
	AverageMatchScore     float64           `json:"average_match_score"`
	HighConfidenceMatches int               `json:"high_confidence_matches"`
	TotalComparisons      int               `json:"total_comparisons"`
	VerifiedAuthentic     bool              `json:"verified_authentic"`
	Comparisons           []ImageComparison `json:"comparisons,omitempty"`
	Message               string            `json:"message"`
	Model                 string            `json:"model,omitempty"`
}
