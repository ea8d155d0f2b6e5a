package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"listing-inspector/internal/model"
	"listing-inspector/internal/utils"
)

const sentimentSystemPrompt = `You are a sentiment scorer for marketplace product reviews.
For every numbered review, output a polarity score between -1.0 (very negative) and 1.0 (very positive).
Judge only the text, ignore any star rating. 0.0 means neutral or purely factual.

Return ONLY this JSON, with exactly one score per review in the given order:
{"scores": [0.8, -0.4, 0.0]}`

// sentimentPositiveThreshold splits positive/neutral/negative at ±0.1
const sentimentPositiveThreshold = 0.1

// SentimentAnalyzer scores reviews with an LLM and summarizes them locally
type SentimentAnalyzer struct {
	client   AIClient
	model    string
	maxBatch int
}

// NewSentimentAnalyzer creates a sentiment analyzer; maxBatch <= 0 sends every review in one call
func NewSentimentAnalyzer(client AIClient, model string, maxBatch int) *SentimentAnalyzer {
	return &SentimentAnalyzer{client: client, model: model, maxBatch: maxBatch}
}

// Available reports whether the backing model can be reached
func (a *SentimentAnalyzer) Available() bool {
	return a != nil && a.client != nil && a.client.IsEnabled()
}

// Analyze scores every review with text and returns the summary.
// Reviews without text are counted in TotalReviews but not analyzed.
func (a *SentimentAnalyzer) Analyze(ctx context.Context, reviews []model.Review) (*model.SentimentSummary, error) {
	if !a.Available() {
		return nil, fmt.Errorf("sentiment analyzer is not configured")
	}

	var indexes []int
	var texts []string
	for i, r := range reviews {
		if text := strings.TrimSpace(r.Text); text != "" {
			indexes = append(indexes, i)
			texts = append(texts, text)
		}
	}

	log.Printf("🔍 Analyzing %d reviews (%d with text)...", len(reviews), len(texts))

	scores := make(map[int]float64, len(texts))
	batch := a.maxBatch
	if batch <= 0 {
		batch = len(texts)
	}
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		got, err := a.scoreBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for j, s := range got {
			scores[indexes[start+j]] = s
		}
	}

	summary := SummarizeSentiment(reviews, scores)
	summary.Model = a.model

	log.Printf("✅ Sentiment: %d positive, %d negative, %d neutral, %d suspicious",
		summary.Counts[model.SentimentPositive],
		summary.Counts[model.SentimentNegative],
		summary.Counts[model.SentimentNeutral],
		summary.MismatchCount)
	return summary, nil
}

func (a *SentimentAnalyzer) scoreBatch(ctx context.Context, texts []string) ([]float64, error) {
	var b strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, utils.Truncate(text, 1000))
	}

	resp, err := a.client.ChatCompletion(ctx, ChatCompletionRequest{
		Model: a.model,
		Messages: []ChatMessage{
			TextMessage("system", sentimentSystemPrompt),
			TextMessage("user", b.String()),
		},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment request failed: %w", err)
	}

	scores, err := parseSentimentScores(resp.FirstContent())
	if err != nil {
		return nil, err
	}
	if len(scores) != len(texts) {
		return nil, fmt.Errorf("sentiment model returned %d scores for %d reviews", len(scores), len(texts))
	}
	return scores, nil
}

// parseSentimentScores accepts {"scores":[...]} or a bare array; each score
// may be a number or numeric string and is clamped to [-1, 1]
func parseSentimentScores(content string) ([]float64, error) {
	var raw []interface{}

	var wrapped struct {
		Scores []interface{} `json:"scores"`
	}
	if err := utils.ParseAIJSON(content, &wrapped); err == nil && wrapped.Scores != nil {
		raw = wrapped.Scores
	} else if err := utils.ParseAIJSON(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sentiment scores: %w", err)
	}

	scores := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := utils.CoerceFloat(v)
		if !ok {
			return nil, fmt.Errorf("sentiment score %d is not numeric: %v", i, v)
		}
		scores[i] = utils.Clamp(f, -1, 1)
	}
	return scores, nil
}

// SummarizeSentiment builds the summary from per-review polarity scores keyed by
// review index. Reviews without a score are not analyzed.
func SummarizeSentiment(reviews []model.Review, scores map[int]float64) *model.SentimentSummary {
	summary := &model.SentimentSummary{
		TotalReviews: len(reviews),
		Reviews:      []model.ReviewSentiment{},
		Counts: map[string]int{
			model.SentimentPositive: 0,
			model.SentimentNegative: 0,
			model.SentimentNeutral:  0,
		},
		Percentages: map[string]float64{
			model.SentimentPositive: 0,
			model.SentimentNegative: 0,
			model.SentimentNeutral:  0,
		},
		SuspiciousReviews: []model.SuspiciousReview{},
	}

	total := 0.0
	for i, r := range reviews {
		score, ok := scores[i]
		if !ok || strings.TrimSpace(r.Text) == "" {
			continue
		}
		category := SentimentCategory(score)
		summary.AnalyzedReviews++
		summary.Counts[category]++
		total += score
		summary.Reviews = append(summary.Reviews, model.ReviewSentiment{
			Index:    i,
			Score:    utils.Round(score, 3),
			Category: category,
		})

		if IsRatingMismatch(r.Rating, score) {
			summary.SuspiciousReviews = append(summary.SuspiciousReviews, model.SuspiciousReview{
				Index:    i,
				Text:     utils.Truncate(r.Text, 100),
				Rating:   *r.Rating,
				Score:    utils.Round(score, 3),
				Category: category,
				Reason:   mismatchReason(*r.Rating, score),
			})
		}
	}

	if n := summary.AnalyzedReviews; n > 0 {
		for category, count := range summary.Counts {
			summary.Percentages[category] = utils.Round(float64(count)/float64(n)*100, 1)
		}
		summary.AverageSentiment = utils.Round(total/float64(n), 3)
	}
	summary.MismatchCount = len(summary.SuspiciousReviews)
	return summary
}

// SentimentCategory buckets a polarity score
func SentimentCategory(score float64) string {
	switch {
	case score > sentimentPositiveThreshold:
		return model.SentimentPositive
	case score < -sentimentPositiveThreshold:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// IsRatingMismatch flags stars that contradict the text. Three-star reviews
// and reviews without a usable rating never mismatch.
func IsRatingMismatch(rating *int, score float64) bool {
	if rating == nil {
		return false
	}
	switch *rating {
	case 5:
		return score < 0
	case 4:
		return score < -0.2
	case 1:
		return score > 0.2
	case 2:
		return score > 0.3
	}
	return false
}

func mismatchReason(rating int, score float64) string {
	switch {
	case rating >= 4 && score < 0:
		return fmt.Sprintf("%d-star rating but negative sentiment (%.2f)", rating, score)
	case rating <= 2 && score > 0.2:
		return fmt.Sprintf("%d-star rating but positive sentiment (%.2f)", rating, score)
	default:
		return fmt.Sprintf("Rating-sentiment mismatch: %d stars, %.2f sentiment", rating, score)
	}
}
