package service

import (
	"context"

	"listing-inspector/internal/model"
)

// SentimentProvider scores review polarity for a listing
type SentimentProvider interface {
	Available() bool
	Analyze(ctx context.Context, reviews []model.Review) (*model.SentimentSummary, error)
}

// AIImageProvider decides whether a listing photo was AI-generated
type AIImageProvider interface {
	Available() bool
	Detect(ctx context.Context, imageURL string) (*model.AIImageVerdict, error)

	// DetectStream forwards model reasoning to onThinking as it arrives
	DetectStream(ctx context.Context, imageURL string, onThinking func(string)) (*model.AIImageVerdict, error)
}

// SimilarityProvider compares buyer photos against the seller's photos
type SimilarityProvider interface {
	Available() bool
	Compare(ctx context.Context, listingImages, reviewImages []string) (*model.ImageSimilarityVerdict, error)
}
