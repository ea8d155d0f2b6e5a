package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"listing-inspector/internal/model"
	"listing-inspector/internal/utils"
)

// Cosine similarity bounds mapped onto the 0-100 match score. CLIP-style
// image embeddings rarely leave this range.
const (
	similarityFloor   = 0.20
	similarityCeiling = 0.80

	highMatchScore    = 70.0
	fetchConcurrency  = 4
	defaultMaxListing = 3
	defaultMaxReview  = 3
)

// EmbeddingStore caches image vectors between analyses
type EmbeddingStore interface {
	GetImageEmbedding(ctx context.Context, imageURL, model string) ([]float32, bool, error)
	SaveImageEmbedding(ctx context.Context, imageURL, model string, embedding []float32) error
}

// ImageSimilarityAnalyzer checks whether buyer photos show the listed product
type ImageSimilarityAnalyzer struct {
	client     AIClient
	fetcher    *ImageFetcher
	store      EmbeddingStore
	model      string
	maxListing int
	maxReview  int
}

// NewImageSimilarityAnalyzer creates an analyzer. store may be nil.
func NewImageSimilarityAnalyzer(client AIClient, fetcher *ImageFetcher, store EmbeddingStore, model string, maxListing, maxReview int) *ImageSimilarityAnalyzer {
	if maxListing <= 0 {
		maxListing = defaultMaxListing
	}
	if maxReview <= 0 {
		maxReview = defaultMaxReview
	}
	return &ImageSimilarityAnalyzer{
		client:     client,
		fetcher:    fetcher,
		store:      store,
		model:      model,
		maxListing: maxListing,
		maxReview:  maxReview,
	}
}

// Available reports whether embeddings can be produced
func (a *ImageSimilarityAnalyzer) Available() bool {
	return a != nil && a.client != nil && a.client.IsEnabled() && a.fetcher != nil
}

// Compare matches each review photo against the first few listing photos and keeps the best
func (a *ImageSimilarityAnalyzer) Compare(ctx context.Context, listingImages, reviewImages []string) (*model.ImageSimilarityVerdict, error) {
	if !a.Available() {
		return nil, fmt.Errorf("image similarity analyzer is not configured")
	}

	listing := firstFetchable(listingImages, a.maxListing)
	reviews := firstFetchable(reviewImages, a.maxReview)
	if len(listing) == 0 || len(reviews) == 0 {
		return &model.ImageSimilarityVerdict{
			Message:     "No images to compare",
			Comparisons: []model.ImageComparison{},
			Model:       a.model,
		}, nil
	}

	log.Printf("🔍 Analyzing %d review photos vs %d listing images", len(reviews), len(listing))

	all := make([]string, 0, len(listing)+len(reviews))
	all = append(all, listing...)
	all = append(all, reviews...)
	vectors, err := a.embed(ctx, all)
	if err != nil {
		return nil, err
	}

	comparisons := make([]model.ImageComparison, 0, len(reviews))
	for i, review := range reviews {
		comparisons = append(comparisons, bestMatch(i, review, vectors[review], listing, vectors))
	}

	verdict := SummarizeComparisons(comparisons)
	verdict.Model = a.model
	log.Printf("✅ Image similarity: %s", verdict.Message)
	return verdict, nil
}

// embed returns a vector per URL; URLs that could not be downloaded are absent
func (a *ImageSimilarityAnalyzer) embed(ctx context.Context, urls []string) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(urls))
	var pending []string
	seen := make(map[string]bool, len(urls))

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if a.store != nil {
			vec, ok, err := a.store.GetImageEmbedding(ctx, u, a.model)
			if err != nil {
				log.Printf("⚠️  Embedding lookup failed for %s: %v", utils.Truncate(u, 80), err)
			} else if ok {
				vectors[u] = vec
				continue
			}
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return vectors, nil
	}

	dataURLs := make([]string, len(pending))
	var wg sync.WaitGroup
	sem := make(chan struct{}, fetchConcurrency)
	for i, u := range pending {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dataURL, err := a.fetcher.FetchDataURL(ctx, u)
			if err != nil {
				log.Printf("❌ Error downloading image %s: %v", utils.Truncate(u, 80), err)
				return
			}
			dataURLs[i] = dataURL
		}(i, u)
	}
	wg.Wait()

	var fetchedURLs, inputs []string
	for i, d := range dataURLs {
		if d != "" {
			fetchedURLs = append(fetchedURLs, pending[i])
			inputs = append(inputs, d)
		}
	}
	if len(inputs) == 0 {
		return vectors, nil
	}

	embeddings, err := a.client.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("image embedding failed: %w", err)
	}
	for i, u := range fetchedURLs {
		vectors[u] = embeddings[i]
		if a.store != nil {
			if err := a.store.SaveImageEmbedding(ctx, u, a.model, embeddings[i]); err != nil {
				log.Printf("⚠️  Failed to cache embedding for %s: %v", utils.Truncate(u, 80), err)
			}
		}
	}
	return vectors, nil
}

func firstFetchable(urls []string, limit int) []string {
	var out []string
	for _, u := range urls {
		if len(out) == limit {
			break
		}
		if model.IsFetchableImageURL(u) {
			out = append(out, u)
		}
	}
	return out
}

func bestMatch(index int, review string, reviewVec []float32, listing []string, vectors map[string][]float32) model.ImageComparison {
	best := model.ImageComparison{
		ReviewIndex: index,
		ReviewImage: review,
		Verdict:     model.MatchVerdictError,
		Confidence:  "low",
		Explanation: "Failed to download or encode images",
	}
	if reviewVec == nil {
		return best
	}

	bestScore := -1.0
	for _, li := range listing {
		listingVec, ok := vectors[li]
		if !ok {
			continue
		}
		sim := CosineSimilarity(reviewVec, listingVec)
		score := SimilarityToScore(sim)
		if score <= bestScore {
			continue
		}
		bestScore = score
		verdict, confidence, same := MatchVerdict(score)
		best = model.ImageComparison{
			ReviewIndex:  index,
			ReviewImage:  review,
			ListingImage: li,
			Similarity:   utils.Round(sim, 6),
			MatchScore:   utils.Round(score, 1),
			Verdict:      verdict,
			Confidence:   confidence,
			SameProduct:  same,
			Explanation:  fmt.Sprintf("Cosine similarity: %.3f -> score %.1f/100", sim, score),
		}
	}
	return best
}

// SummarizeComparisons aggregates per-photo matches into the listing verdict
func SummarizeComparisons(comparisons []model.ImageComparison) *model.ImageSimilarityVerdict {
	total := 0.0
	high := 0
	for _, c := range comparisons {
		total += c.MatchScore
		if c.MatchScore >= highMatchScore {
			high++
		}
	}
	avg := 0.0
	if len(comparisons) > 0 {
		avg = total / float64(len(comparisons))
	}

	return &model.ImageSimilarityVerdict{
		Analyzed:              true,
		AverageMatchScore:     utils.Round(avg, 1),
		HighConfidenceMatches: high,
		TotalComparisons:      len(comparisons),
		VerifiedAuthentic:     (high >= 1 && avg >= 60) || high >= 2,
		Comparisons:           comparisons,
		Message:               similarityMessage(avg, high, len(comparisons)),
	}
}

func similarityMessage(avg float64, high, total int) string {
	switch {
	case high >= 2:
		return fmt.Sprintf("✅ Strong verification: %d/%d review photos match", high, total)
	case high == 1 && avg >= 60:
		return "✅ Good verification: Review photos likely show same product"
	case avg >= 50:
		return "⚠️ Partial match: Some similarity detected"
	default:
		return "🚩 Poor match: Review photos may show different products"
	}
}

// CosineSimilarity returns 0 for mismatched or zero vectors
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SimilarityToScore maps cosine similarity linearly from [0.20, 0.80] onto [0, 100]
func SimilarityToScore(sim float64) float64 {
	clamped := utils.Clamp(sim, similarityFloor, similarityCeiling)
	return (clamped - similarityFloor) / (similarityCeiling - similarityFloor) * 100
}

// MatchVerdict returns the verdict label, its confidence and whether the photos show the same product
func MatchVerdict(score float64) (string, string, bool) {
	switch {
	case score >= 70:
		return model.MatchVerdictMatch, "high", true
	case score >= 50:
		return model.MatchVerdictLikelyMatch, "medium", true
	case score >= 30:
		return model.MatchVerdictUnclear, "low", false
	default:
		return model.MatchVerdictMismatch, "high", false
	}
}
