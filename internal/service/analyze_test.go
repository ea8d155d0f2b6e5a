package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"listing-inspector/internal/cache"
	"listing-inspector/internal/model"
)

type stubSentiment struct {
	summary *model.SentimentSummary
	err     error
	calls   atomic.Int32
}

func (s *stubSentiment) Available() bool { return true }

func (s *stubSentiment) Analyze(ctx context.Context, reviews []model.Review) (*model.SentimentSummary, error) {
	s.calls.Add(1)
	return s.summary, s.err
}

type stubAIImage struct {
	verdict  *model.AIImageVerdict
	err      error
	block    bool
	thinking []string
	calls    atomic.Int32
}

func (s *stubAIImage) Available() bool { return true }

func (s *stubAIImage) Detect(ctx context.Context, imageURL string) (*model.AIImageVerdict, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.verdict, s.err
}

func (s *stubAIImage) DetectStream(ctx context.Context, imageURL string, onThinking func(string)) (*model.AIImageVerdict, error) {
	for _, t := range s.thinking {
		onThinking(t)
	}
	return s.Detect(ctx, imageURL)
}

// lateAIImage keeps thinking after its deadline has passed
type lateAIImage struct {
	done chan struct{}
}

func (s *lateAIImage) Available() bool { return true }

func (s *lateAIImage) Detect(ctx context.Context, imageURL string) (*model.AIImageVerdict, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *lateAIImage) DetectStream(ctx context.Context, imageURL string, onThinking func(string)) (*model.AIImageVerdict, error) {
	defer close(s.done)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	onThinking("still looking")
	return nil, ctx.Err()
}

type stubSimilarity struct {
	verdict *model.ImageSimilarityVerdict
	calls   atomic.Int32
}

func (s *stubSimilarity) Available() bool { return true }

func (s *stubSimilarity) Compare(ctx context.Context, listingImages, reviewImages []string) (*model.ImageSimilarityVerdict, error) {
	s.calls.Add(1)
	return s.verdict, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	logs      []model.AssessmentLog
	lastLimit int
	lastKey   string
	err       error
}

func (f *fakeRecorder) LogAssessment(ctx context.Context, entry *model.AssessmentLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *entry)
	return f.err
}

func (f *fakeRecorder) ListAssessments(ctx context.Context, fingerprint string, limit int) ([]model.AssessmentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = fingerprint
	f.lastLimit = limit
	return f.logs, f.err
}

// pingRecorder is a fakeRecorder whose store answers health checks
type pingRecorder struct {
	fakeRecorder
	pingErr error
}

func (p *pingRecorder) Ping(ctx context.Context) error { return p.pingErr }

const listingURL = "https://www.etsy.com/listing/123/handmade-mug"

func analyzeRequest(url string, data model.ListingPayload) *model.AnalyzeRequest {
	return &model.AnalyzeRequest{URL: url, Data: data}
}

func withImages(urls ...string) []model.ImageRef {
	refs := make([]model.ImageRef, len(urls))
	for i, u := range urls {
		refs[i] = model.ImageRef{URL: u}
	}
	return refs
}

func TestAnalyzeService_NoSignals(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	svc := NewAnalyzeService(store, nil, nil, nil, nil, nil, time.Second)

	resp, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, model.ListingPayload{}))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Risk.Score != 15 || resp.Risk.Level != model.RiskVeryLow {
		t.Errorf("risk = %d %s, want 15 VERY LOW", resp.Risk.Score, resp.Risk.Level)
	}
	if resp.Analyzers != (model.AnalyzerStatus{}) {
		t.Errorf("no analyzer should have run: %+v", resp.Analyzers)
	}
	if resp.FromCache || resp.AnalysisID == "" || resp.Status != "success" {
		t.Errorf("unexpected response %+v", resp)
	}
	if store.Stats().Entries != 1 {
		t.Error("response should be cached")
	}
}

func TestAnalyzeService_CacheHit(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	sentiment := &stubSentiment{summary: SummarizeSentiment(makeReviews(1, 0), map[int]float64{0: 0.9})}
	svc := NewAnalyzeService(store, nil, sentiment, nil, nil, nil, time.Second)

	data := model.ListingPayload{Reviews: []model.RawReview{{Text: "Lovely", Rating: model.FlexInt{Value: 5, Valid: true}}}}
	first, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, data))
	if err != nil {
		t.Fatalf("first Analyze: %v", err)
	}

	second, err := svc.Analyze(context.Background(), analyzeRequest(listingURL+"?ref=search&click=1", data))
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if !second.FromCache || second.CachedAt == nil {
		t.Fatalf("expected cache hit, got %+v", second)
	}
	if second.AnalysisID != first.AnalysisID || second.Risk.Score != first.Risk.Score {
		t.Error("cached response differs from the stored one")
	}
	if second.Results.Sentiment == nil {
		t.Error("cached response lost its signals")
	}
	if n := sentiment.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestAnalyzeService_ForceRefresh(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	sentiment := &stubSentiment{summary: SummarizeSentiment(nil, nil)}
	svc := NewAnalyzeService(store, nil, sentiment, nil, nil, nil, time.Second)

	data := model.ListingPayload{Reviews: []model.RawReview{{Text: "ok"}}}
	first, _ := svc.Analyze(context.Background(), analyzeRequest(listingURL, data))

	req := analyzeRequest(listingURL, data)
	req.ForceRefresh = true
	second, err := svc.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if second.FromCache || second.AnalysisID == first.AnalysisID {
		t.Error("force_refresh must bypass the cache")
	}
	if n := sentiment.calls.Load(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestAnalyzeService_UnreadableCacheEntry(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	store.Set(listingURL, []byte("not json"))
	svc := NewAnalyzeService(store, nil, nil, nil, nil, nil, time.Second)

	resp, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, model.ListingPayload{}))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.FromCache {
		t.Error("unreadable entry should be treated as a miss")
	}
}

func TestAnalyzeService_SignalsReachRisk(t *testing.T) {
	aiImage := &stubAIImage{verdict: &model.AIImageVerdict{Detected: true, Confidence: 80}}
	svc := NewAnalyzeService(nil, nil, nil, aiImage, nil, nil, time.Second)

	data := model.ListingPayload{
		SellerAgeMonths: model.FlexInt{Value: 3, Valid: true},
		Images:          withImages("https://img.example/listing.jpg"),
		Reviews:         []model.RawReview{{Text: "Looks nice", Rating: model.FlexInt{Value: 5, Valid: true}}},
	}
	resp, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, data))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// reviews 10 + seller 12 + review photos 15 + ai 10
	if resp.Risk.Score != 47 || resp.Risk.Level != model.RiskMedium {
		t.Errorf("risk = %d %s, want 47 MEDIUM", resp.Risk.Score, resp.Risk.Level)
	}
	if resp.Risk.Breakdown[CategoryAIImages] != 10 {
		t.Errorf("ai breakdown = %d, want 10", resp.Risk.Breakdown[CategoryAIImages])
	}
	if !resp.Analyzers.AIImage || resp.Results.AIImage == nil {
		t.Error("AI image signal missing from response")
	}
}

func TestAnalyzeService_ProviderFailuresDegrade(t *testing.T) {
	sentiment := &stubSentiment{err: errors.New("model overloaded")}
	aiImage := &stubAIImage{block: true}
	similarity := &stubSimilarity{verdict: &model.ImageSimilarityVerdict{Analyzed: true}}
	svc := NewAnalyzeService(nil, nil, sentiment, aiImage, similarity, nil, 50*time.Millisecond)

	data := model.ListingPayload{
		Images: withImages("https://img.example/listing.jpg"),
		Reviews: []model.RawReview{
			{Text: "Nice", Images: withImages("https://img.example/review.jpg")},
		},
	}

	start := time.Now()
	resp, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, data))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("provider timeout not applied, took %s", elapsed)
	}
	if resp.Analyzers.Sentiment || resp.Analyzers.AIImage {
		t.Errorf("failed providers reported as run: %+v", resp.Analyzers)
	}
	if !resp.Analyzers.ImageSimilarity {
		t.Error("similarity should still contribute")
	}
	if resp.Results.Sentiment != nil || resp.Results.AIImage != nil {
		t.Error("failed providers must yield nil signals")
	}
}

func TestAnalyzeService_SkipsProvidersWithoutInput(t *testing.T) {
	sentiment := &stubSentiment{}
	aiImage := &stubAIImage{}
	similarity := &stubSimilarity{}
	svc := NewAnalyzeService(nil, nil, sentiment, aiImage, similarity, nil, time.Second)

	if _, err := svc.Analyze(context.Background(), analyzeRequest(listingURL, model.ListingPayload{})); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sentiment.calls.Load()+aiImage.calls.Load()+similarity.calls.Load() != 0 {
		t.Error("providers should not run without reviews or images")
	}
}

func TestAnalyzeService_Stream(t *testing.T) {
	aiImage := &stubAIImage{
		verdict:  &model.AIImageVerdict{Detected: false, Confidence: 10},
		thinking: []string{"looking at shadows"},
	}
	svc := NewAnalyzeService(cache.NewMemoryStore(time.Hour), nil, nil, aiImage, nil, nil, time.Second)

	var events []string
	req := analyzeRequest(listingURL, model.ListingPayload{Images: withImages("https://img.example/a.jpg")})
	resp, err := svc.AnalyzeStream(context.Background(), req, func(event string, data any) error {
		events = append(events, event)
		return nil
	})
	if err != nil {
		t.Fatalf("AnalyzeStream: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}

	want := []string{"cache", "signals", "thinking", "ai_image", "risk"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}

	events = nil
	if _, err := svc.AnalyzeStream(context.Background(), req, func(event string, data any) error {
		events = append(events, event)
		return nil
	}); err != nil {
		t.Fatalf("cached AnalyzeStream: %v", err)
	}
	if len(events) != 1 || events[0] != "cache" {
		t.Errorf("cached stream events = %v, want [cache]", events)
	}
}

func TestAnalyzeService_StreamDropsEventsAfterReturn(t *testing.T) {
	aiImage := &lateAIImage{done: make(chan struct{})}
	svc := NewAnalyzeService(nil, nil, nil, aiImage, nil, nil, 20*time.Millisecond)

	var returned, late atomic.Bool
	req := analyzeRequest(listingURL, model.ListingPayload{Images: withImages("https://img.example/a.jpg")})
	resp, err := svc.AnalyzeStream(context.Background(), req, func(event string, data any) error {
		if returned.Load() {
			late.Store(true)
		}
		return nil
	})
	returned.Store(true)
	if err != nil {
		t.Fatalf("AnalyzeStream: %v", err)
	}
	if resp.Analyzers.AIImage {
		t.Error("timed out analyzer reported as run")
	}

	select {
	case <-aiImage.done:
	case <-time.After(2 * time.Second):
		t.Fatal("detector never finished")
	}
	if late.Load() {
		t.Error("callback invoked after AnalyzeStream returned")
	}
}

func TestAnalyzeService_StreamCallbackError(t *testing.T) {
	svc := NewAnalyzeService(nil, nil, nil, nil, nil, nil, time.Second)
	gone := errors.New("client disconnected")

	_, err := svc.AnalyzeStream(context.Background(), analyzeRequest(listingURL, model.ListingPayload{}), func(string, any) error {
		return gone
	})
	if !errors.Is(err, gone) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestAnalyzeService_InvalidRequest(t *testing.T) {
	svc := NewAnalyzeService(nil, nil, nil, nil, nil, nil, time.Second)
	for _, req := range []*model.AnalyzeRequest{nil, {URL: "   "}} {
		if _, err := svc.Analyze(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	}
}

func TestAnalyzeService_RecordsHistory(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := NewAnalyzeService(nil, nil, nil, nil, nil, recorder, time.Second)

	resp, err := svc.Analyze(context.Background(), analyzeRequest(listingURL+"?ref=1", model.ListingPayload{}))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	svc.Wait()

	if len(recorder.logs) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(recorder.logs))
	}
	row := recorder.logs[0]
	if row.AnalysisID != resp.AnalysisID || row.Score != 15 || row.URL != listingURL {
		t.Errorf("unexpected row %+v", row)
	}
	if row.Fingerprint != cache.Fingerprint(listingURL) {
		t.Errorf("fingerprint = %s", row.Fingerprint)
	}
	if string(row.Warnings) != `["⚠️ No reviews found - cannot verify product quality"]` {
		t.Errorf("warnings = %s", row.Warnings)
	}
}

func TestAnalyzeService_History(t *testing.T) {
	svc := NewAnalyzeService(nil, nil, nil, nil, nil, nil, time.Second)
	if _, err := svc.History(context.Background(), listingURL, 0); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("expected ErrHistoryDisabled, got %v", err)
	}

	recorder := &fakeRecorder{logs: []model.AssessmentLog{{Score: 40}}}
	svc = NewAnalyzeService(nil, nil, nil, nil, nil, recorder, time.Second)

	tests := []struct {
		limit int
		want  int
	}{
		{0, defaultHistoryLimit},
		{5, 5},
		{1000, maxHistoryLimit},
	}
	for _, tt := range tests {
		got, err := svc.History(context.Background(), listingURL+"?x=1", tt.limit)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if recorder.lastLimit != tt.want {
			t.Errorf("limit %d passed as %d, want %d", tt.limit, recorder.lastLimit, tt.want)
		}
		if got.Total != 1 || got.URL != listingURL {
			t.Errorf("unexpected history %+v", got)
		}
	}
	if recorder.lastKey != cache.Fingerprint(listingURL) {
		t.Error("history should be looked up by fingerprint")
	}

	if _, err := svc.History(context.Background(), "", 10); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAnalyzeService_CacheAdmin(t *testing.T) {
	disabled := NewAnalyzeService(nil, nil, nil, nil, nil, nil, time.Second)
	if _, err := disabled.CacheStats(); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("CacheStats: expected ErrCacheDisabled, got %v", err)
	}
	if _, err := disabled.ClearCache(""); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("ClearCache: expected ErrCacheDisabled, got %v", err)
	}

	store := cache.NewMemoryStore(time.Hour)
	svc := NewAnalyzeService(store, nil, nil, nil, nil, nil, time.Second)
	svc.Analyze(context.Background(), analyzeRequest(listingURL, model.ListingPayload{}))
	svc.Analyze(context.Background(), analyzeRequest(listingURL+"-2", model.ListingPayload{}))

	stats, err := svc.CacheStats()
	if err != nil || stats.Entries != 2 || stats.Backend != "memory" {
		t.Fatalf("stats = %+v, err %v", stats, err)
	}

	got, _ := svc.ClearCache(listingURL + "?utm=x")
	if !got.Success || got.Message != "Cache cleared for "+listingURL+"?utm=x" {
		t.Errorf("clear one = %+v", got)
	}
	got, _ = svc.ClearCache(listingURL)
	if got.Success {
		t.Error("second clear should report nothing removed")
	}

	got, _ = svc.ClearCache("")
	if !got.Success || got.Message != "All cache cleared" {
		t.Errorf("clear all = %+v", got)
	}
	if stats, _ := svc.CacheStats(); stats.Entries != 0 {
		t.Errorf("entries after clear = %d", stats.Entries)
	}
}

func TestAnalyzeService_Status(t *testing.T) {
	svc := NewAnalyzeService(cache.NewMemoryStore(0), nil, &stubSentiment{}, nil, NewImageSimilarityAnalyzer(nil, nil, nil, "", 0, 0), nil, 0)
	got := svc.Status(context.Background())
	want := model.StatusResponse{
		Status:    "ok",
		Analyzers: model.AnalyzerStatus{Sentiment: true},
		Cache:     true,
	}
	if got != want {
		t.Errorf("Status() = %+v, want %+v", got, want)
	}
}

func TestAnalyzeService_StatusPingsHistory(t *testing.T) {
	tests := []struct {
		name      string
		recorder  AssessmentRecorder
		status    string
		reachable bool
	}{
		{"no ping support", &fakeRecorder{}, "ok", false},
		{"reachable", &pingRecorder{}, "ok", true},
		{"unreachable", &pingRecorder{pingErr: errors.New("connection refused")}, "degraded", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAnalyzeService(nil, nil, nil, nil, nil, tt.recorder, time.Second)
			got := svc.Status(context.Background())
			if !got.History || got.Status != tt.status || got.HistoryReachable != tt.reachable {
				t.Errorf("Status() = %+v, want status %q reachable %v", got, tt.status, tt.reachable)
			}
		})
	}
}
