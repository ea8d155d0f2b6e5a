package service

import (
	"listing-inspector/internal/model"
	"listing-inspector/internal/utils"
)

type riskBand struct {
	floor          int
	level          model.RiskLevel
	color          string
	recommendation string
}

// riskBands are checked top-down; every band is [floor, next floor) except
// VERY HIGH, which also takes 100.
var riskBands = []riskBand{
	{80, model.RiskVeryHigh, "#dc2626", "🚫 Very high risk - consider alternative listings with more reviews and established sellers"},
	{60, model.RiskHigh, "#ef4444", "⚠️ High risk - look for review photos and established seller history before purchasing"},
	{40, model.RiskMedium, "#f59e0b", "⚠️ Exercise caution - verify seller credibility and reviews carefully"},
	{20, model.RiskLow, "#84cc16", "✅ Likely legitimate - proceed with normal caution"},
	{0, model.RiskVeryLow, "#22c55e", "✅ Appears trustworthy - safe to purchase"},
}

func bandFor(score int) riskBand {
	for _, b := range riskBands {
		if score >= b.floor {
			return b
		}
	}
	return riskBands[len(riskBands)-1]
}

// RiskCalculator fuses listing metadata and provider signals into a 0-100 score.
// It holds no mutable state and is safe to share across requests.
type RiskCalculator struct {
	rules     []RiskRule
	dateCheck DateClusterCheck
}

// RiskOption configures a RiskCalculator
type RiskOption func(*RiskCalculator)

// WithDateClusterCheck replaces the no-op review date check
func WithDateClusterCheck(check DateClusterCheck) RiskOption {
	return func(c *RiskCalculator) {
		if check != nil {
			c.dateCheck = check
		}
	}
}

// NewRiskCalculator creates a calculator with the standard rule set
func NewRiskCalculator(opts ...RiskOption) *RiskCalculator {
	c := &RiskCalculator{
		rules:     defaultRules,
		dateCheck: noDateClustering,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Assess runs every rule in order. Nil signals contribute nothing.
// The similarity verdict is carried for the response but not scored.
func (c *RiskCalculator) Assess(
	listing *model.ListingContext,
	sentiment *model.SentimentSummary,
	aiImage *model.AIImageVerdict,
	similarity *model.ImageSimilarityVerdict,
) model.RiskAssessment {
	if listing == nil {
		listing = &model.ListingContext{}
	}

	rc := &RuleContext{
		Listing:           listing,
		Sentiment:         sentiment,
		AIImage:           aiImage,
		Similarity:        similarity,
		reviewsWithPhotos: listing.ReviewsWithPhotos(),
		dateCheck:         c.dateCheck,
	}

	raw := 0
	warnings := []string{}
	breakdown := make(map[string]int, len(c.rules))
	for _, rule := range c.rules {
		points, w := rule.Evaluate(rc)
		raw += points
		breakdown[rule.Name] = points
		warnings = append(warnings, w...)
	}

	score := utils.ClampInt(raw, 0, 100)
	band := bandFor(score)

	return model.RiskAssessment{
		Score:          score,
		RawScore:       raw,
		Level:          band.level,
		Color:          band.color,
		Warnings:       warnings,
		Breakdown:      breakdown,
		Recommendation: band.recommendation,
	}
}
