package service

import (
	"fmt"
	"strconv"

	"listing-inspector/internal/model"
)

// Breakdown keys, in evaluation order
const (
	CategoryReviews      = "reviews"
	CategorySeller       = "seller"
	CategoryReviewPhotos = "review_photos"
	CategorySentiment    = "sentiment"
	CategoryAIImages     = "ai_images"
)

// RuleContext is the read-only input shared by every rule
type RuleContext struct {
	Listing    *model.ListingContext
	Sentiment  *model.SentimentSummary
	AIImage    *model.AIImageVerdict
	Similarity *model.ImageSimilarityVerdict

	reviewsWithPhotos int
	dateCheck         DateClusterCheck
}

// RiskRule is one scoring category. Points may be negative.
type RiskRule struct {
	Name     string
	Evaluate func(rc *RuleContext) (points int, warnings []string)
}

// DateClusterCheck inspects review dates for bursts of activity
type DateClusterCheck func(dates []string) (points int, warning string)

// noDateClustering is the default: review dates are collected but never scored
func noDateClustering([]string) (int, string) {
	return 0, ""
}

// defaultRules is evaluated in order; warnings keep this order
var defaultRules = []RiskRule{
	{Name: CategoryReviews, Evaluate: reviewVolumeRule},
	{Name: CategorySeller, Evaluate: sellerCredibilityRule},
	{Name: CategoryReviewPhotos, Evaluate: reviewPhotoRule},
	{Name: CategorySentiment, Evaluate: sentimentRule},
	{Name: CategoryAIImages, Evaluate: aiImageRule},
}

func reviewVolumeRule(rc *RuleContext) (int, []string) {
	count := len(rc.Listing.Reviews)
	if count == 0 {
		return 15, []string{"⚠️ No reviews found - cannot verify product quality"}
	}

	points := 0
	var warnings []string
	switch {
	case count < 5:
		points += 10
		warnings = append(warnings, fmt.Sprintf("⚠️ Only %d reviews - limited feedback", count))
	case count < 10:
		points += 5
		warnings = append(warnings, fmt.Sprintf("⚠️ Only %d reviews - consider more established listings", count))
	}

	if dates := rc.Listing.ReviewDates(); len(dates) > 0 && rc.dateCheck != nil {
		p, w := rc.dateCheck(dates)
		points += p
		if w != "" {
			warnings = append(warnings, w)
		}
	}

	return points, warnings
}

func sellerCredibilityRule(rc *RuleContext) (int, []string) {
	points := 0
	var warnings []string

	if age := rc.Listing.SellerAgeMonths; age != nil {
		switch {
		case *age < 6:
			points += 12
			warnings = append(warnings, "🚩 Very new seller (< 6 months old)")
		case *age < 12:
			points += 8
			warnings = append(warnings, fmt.Sprintf("⚠️ New seller (%d months old)", *age))
		case *age < 24:
			points += 4
			warnings = append(warnings, fmt.Sprintf("ℹ️ Relatively new seller (%d months)", *age))
		}
	}

	if sales := rc.Listing.SalesCount; sales != nil {
		switch {
		case *sales < 10:
			points += 10
			warnings = append(warnings, fmt.Sprintf("🚩 Very few sales (%d)", *sales))
		case *sales < 50:
			points += 5
			warnings = append(warnings, fmt.Sprintf("⚠️ Limited sales history (%d)", *sales))
		}
	}

	if days := rc.Listing.ListingAgeDays; days != nil && *days < 3 {
		points += 3
		warnings = append(warnings, fmt.Sprintf("ℹ️ Very new listing (%d days old)", *days))
	}

	return points, warnings
}

// reviewPhotoRule is protective: buyer photos lower the score.
// A listing without reviews is already penalized by reviewVolumeRule.
func reviewPhotoRule(rc *RuleContext) (int, []string) {
	if len(rc.Listing.Reviews) == 0 {
		return 0, nil
	}

	n := rc.reviewsWithPhotos
	switch {
	case n >= 5:
		return -15, []string{fmt.Sprintf("✅ %d reviews have photos - strong authenticity indicator", n)}
	case n >= 3:
		return -10, []string{fmt.Sprintf("✅ %d reviews have photos - good verification", n)}
	case n >= 1:
		return -5, []string{fmt.Sprintf("ℹ️ %d review(s) have photos", n)}
	default:
		return 15, []string{"⚠️ No review photos - cannot verify actual product appearance"}
	}
}

func sentimentRule(rc *RuleContext) (int, []string) {
	s := rc.Sentiment
	count := len(rc.Listing.Reviews)
	if s == nil || count == 0 {
		return 0, nil
	}

	points := 0
	var warnings []string

	if s.MismatchCount > 0 {
		points += min(s.MismatchCount*5, 15)
		warnings = append(warnings, fmt.Sprintf("🚩 %d suspicious review(s) - rating doesn't match text sentiment", s.MismatchCount))
	}

	if pct := s.PositivePercentage(); pct > 95 && count > 10 {
		points += 5
		warnings = append(warnings, fmt.Sprintf("⚠️ Unusually high positive sentiment (%s%%) - may indicate fake reviews", formatDecimal(pct)))
	}

	if s.AverageSentiment > 0.7 && count > 15 {
		points += 3
		warnings = append(warnings, fmt.Sprintf("ℹ️ Very enthusiastic reviews (avg sentiment: %s) - verify authenticity", formatDecimal(s.AverageSentiment)))
	}

	return points, warnings
}

// aiImageRule weighs an AI-generation hit by how established the seller is.
// Missing tenure or sales count as zero here.
func aiImageRule(rc *RuleContext) (int, []string) {
	ai := rc.AIImage
	if ai == nil || !ai.Detected {
		return 0, nil
	}

	tenure := derefOr(rc.Listing.SellerAgeMonths, 0)
	sales := derefOr(rc.Listing.SalesCount, 0)
	photos := rc.reviewsWithPhotos

	switch {
	case photos >= 3 && tenure >= 12 && sales >= 100:
		return 2, []string{fmt.Sprintf("ℹ️ AI-detected in listing image (%d%% confidence) - likely edited product photo given established seller", ai.Confidence)}
	case photos == 0 && tenure < 6:
		return 10, []string{fmt.Sprintf("🚩 AI-generated listing image (%d%% confidence) + no review photos + new seller - HIGH RISK", ai.Confidence)}
	default:
		return 5, []string{fmt.Sprintf("⚠️ AI-detected in listing image (%d%% confidence) - verify with review photos", ai.Confidence)}
	}
}

func derefOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// formatDecimal prints the shortest representation, so 97.5 stays "97.5" and 100 is "100"
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
