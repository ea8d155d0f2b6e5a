package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"listing-inspector/internal/model"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimilarityToScore(t *testing.T) {
	tests := []struct {
		sim  float64
		want float64
	}{
		{-0.5, 0},
		{0.1, 0},
		{0.2, 0},
		{0.5, 50},
		{0.8, 100},
		{0.95, 100},
	}
	for _, tt := range tests {
		if got := SimilarityToScore(tt.sim); !approxEqual(got, tt.want) {
			t.Errorf("SimilarityToScore(%v) = %v, want %v", tt.sim, got, tt.want)
		}
	}
}

func TestMatchVerdict(t *testing.T) {
	tests := []struct {
		score      float64
		verdict    string
		confidence string
		same       bool
	}{
		{100, model.MatchVerdictMatch, "high", true},
		{70, model.MatchVerdictMatch, "high", true},
		{69.9, model.MatchVerdictLikelyMatch, "medium", true},
		{50, model.MatchVerdictLikelyMatch, "medium", true},
		{49.9, model.MatchVerdictUnclear, "low", false},
		{30, model.MatchVerdictUnclear, "low", false},
		{29.9, model.MatchVerdictMismatch, "high", false},
		{0, model.MatchVerdictMismatch, "high", false},
	}
	for _, tt := range tests {
		verdict, confidence, same := MatchVerdict(tt.score)
		if verdict != tt.verdict || confidence != tt.confidence || same != tt.same {
			t.Errorf("MatchVerdict(%v) = %s/%s/%v, want %s/%s/%v",
				tt.score, verdict, confidence, same, tt.verdict, tt.confidence, tt.same)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarizeComparisons(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		verified bool
		high     int
		message  string
	}{
		{"two strong", []float64{80, 75}, true, 2, "✅ Strong verification: 2/2 review photos match"},
		{"one strong good average", []float64{72, 50}, true, 1, "✅ Good verification: Review photos likely show same product"},
		{"one strong low average", []float64{72, 30}, false, 1, "⚠️ Partial match: Some similarity detected"},
		{"partial", []float64{55, 50}, false, 0, "⚠️ Partial match: Some similarity detected"},
		{"poor", []float64{10}, false, 0, "🚩 Poor match: Review photos may show different products"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comparisons := make([]model.ImageComparison, len(tt.scores))
			for i, s := range tt.scores {
				comparisons[i] = model.ImageComparison{MatchScore: s}
			}
			got := SummarizeComparisons(comparisons)
			if !got.Analyzed || got.TotalComparisons != len(tt.scores) {
				t.Errorf("analyzed/total = %v/%d", got.Analyzed, got.TotalComparisons)
			}
			if got.VerifiedAuthentic != tt.verified {
				t.Errorf("VerifiedAuthentic = %v, want %v", got.VerifiedAuthentic, tt.verified)
			}
			if got.HighConfidenceMatches != tt.high {
				t.Errorf("HighConfidenceMatches = %d, want %d", got.HighConfidenceMatches, tt.high)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

// memoryEmbeddingStore is an EmbeddingStore backed by a map
type memoryEmbeddingStore struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failGet bool
}

func (m *memoryEmbeddingStore) GetImageEmbedding(ctx context.Context, imageURL, modelName string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("db down")
	}
	v, ok := m.vectors[modelName+"|"+imageURL]
	return v, ok, nil
}

func (m *memoryEmbeddingStore) SaveImageEmbedding(ctx context.Context, imageURL, modelName string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectors == nil {
		m.vectors = make(map[string][]float32)
	}
	m.vectors[modelName+"|"+imageURL] = embedding
	return nil
}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(append(append([]byte{}, pngHeader...), r.URL.Path...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImageSimilarityAnalyzer_Compare(t *testing.T) {
	srv := newImageServer(t)
	client := &fakeAIClient{embedFn: func(inputs []string) ([][]float32, error) {
		// listing, matching review, unrelated review
		return [][]float32{{1, 0}, {1, 0}, {0, 1}}, nil
	}}
	store := &memoryEmbeddingStore{}
	analyzer := NewImageSimilarityAnalyzer(client, NewImageFetcher(time.Second, 1024), store, "clip", 3, 3)

	listing := []string{srv.URL + "/listing.png"}
	reviews := []string{srv.URL + "/match.png", srv.URL + "/other.png", srv.URL + "/broken.png"}

	got, err := analyzer.Compare(context.Background(), listing, reviews)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got.TotalComparisons != 3 {
		t.Fatalf("TotalComparisons = %d, want 3", got.TotalComparisons)
	}

	wantVerdicts := []string{model.MatchVerdictMatch, model.MatchVerdictMismatch, model.MatchVerdictError}
	for i, c := range got.Comparisons {
		if c.Verdict != wantVerdicts[i] {
			t.Errorf("comparison %d verdict = %s, want %s", i, c.Verdict, wantVerdicts[i])
		}
		if c.ReviewIndex != i || c.ReviewImage != reviews[i] {
			t.Errorf("comparison %d not aligned with review images: %+v", i, c)
		}
	}
	if got.Comparisons[0].MatchScore != 100 || got.Comparisons[0].ListingImage != listing[0] {
		t.Errorf("unexpected best match %+v", got.Comparisons[0])
	}
	if got.HighConfidenceMatches != 1 || got.VerifiedAuthentic {
		t.Errorf("high=%d verified=%v, want 1/false", got.HighConfidenceMatches, got.VerifiedAuthentic)
	}
	if got.AverageMatchScore != 33.3 {
		t.Errorf("AverageMatchScore = %v, want 33.3", got.AverageMatchScore)
	}

	// embeddings are reused from the store on the next run
	if _, err := analyzer.Compare(context.Background(), listing, reviews); err != nil {
		t.Fatalf("second Compare: %v", err)
	}
	if n := len(client.embedCalls); n != 1 {
		t.Errorf("expected 1 embedding call, got %d", n)
	}
	if n := len(store.vectors); n != 3 {
		t.Errorf("expected 3 stored vectors, got %d", n)
	}
}

func TestImageSimilarityAnalyzer_PicksBestListingImage(t *testing.T) {
	srv := newImageServer(t)
	client := &fakeAIClient{embedFn: func(inputs []string) ([][]float32, error) {
		return [][]float32{{0, 1}, {1, 0}, {1, 0.1}}, nil
	}}
	analyzer := NewImageSimilarityAnalyzer(client, NewImageFetcher(time.Second, 1024), nil, "clip", 3, 3)

	listing := []string{srv.URL + "/side.png", srv.URL + "/front.png"}
	got, err := analyzer.Compare(context.Background(), listing, []string{srv.URL + "/review.png"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got.Comparisons[0].ListingImage != listing[1] {
		t.Errorf("best listing image = %s, want %s", got.Comparisons[0].ListingImage, listing[1])
	}
	if !got.VerifiedAuthentic {
		t.Error("a single near-identical photo should verify")
	}
}

func TestImageSimilarityAnalyzer_CapsInputs(t *testing.T) {
	srv := newImageServer(t)
	client := &fakeAIClient{embedFn: func(inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range out {
			out[i] = []float32{1, 0}
		}
		return out, nil
	}}
	analyzer := NewImageSimilarityAnalyzer(client, NewImageFetcher(time.Second, 1024), nil, "clip", 0, 0)

	var listing, reviews []string
	for i := 0; i < 5; i++ {
		listing = append(listing, srv.URL+"/l"+string(rune('a'+i))+".png")
		reviews = append(reviews, srv.URL+"/r"+string(rune('a'+i))+".png")
	}
	got, err := analyzer.Compare(context.Background(), listing, reviews)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got.TotalComparisons != defaultMaxReview {
		t.Errorf("TotalComparisons = %d, want %d", got.TotalComparisons, defaultMaxReview)
	}
	if n := len(client.embedCalls[0]); n != defaultMaxListing+defaultMaxReview {
		t.Errorf("embedded %d images, want %d", n, defaultMaxListing+defaultMaxReview)
	}
}

func TestImageSimilarityAnalyzer_NoImages(t *testing.T) {
	analyzer := NewImageSimilarityAnalyzer(&fakeAIClient{}, NewImageFetcher(time.Second, 1024), nil, "clip", 3, 3)

	got, err := analyzer.Compare(context.Background(), nil, []string{"https://img.example/r.jpg"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got.Analyzed || got.Message != "No images to compare" {
		t.Errorf("unexpected verdict %+v", got)
	}
}

func TestImageSimilarityAnalyzer_EmbeddingFailure(t *testing.T) {
	srv := newImageServer(t)
	client := &fakeAIClient{embedFn: func([]string) ([][]float32, error) {
		return nil, errors.New("rate limited")
	}}
	store := &memoryEmbeddingStore{failGet: true}
	analyzer := NewImageSimilarityAnalyzer(client, NewImageFetcher(time.Second, 1024), store, "clip", 3, 3)

	_, err := analyzer.Compare(context.Background(), []string{srv.URL + "/l.png"}, []string{srv.URL + "/r.png"})
	if err == nil {
		t.Error("expected embedding failure to surface")
	}
}
