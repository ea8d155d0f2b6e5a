package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"listing-inspector/internal/cache"
	"listing-inspector/internal/model"
	"listing-inspector/internal/telemetry"
	"listing-inspector/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrCacheDisabled   = errors.New("cache is disabled")
	ErrHistoryDisabled = errors.New("assessment history is disabled")
)

const (
	defaultProviderTimeout = 20 * time.Second
	defaultHistoryLimit    = 20
	maxHistoryLimit        = 100
	statusPingTimeout      = 2 * time.Second
)

// AssessmentRecorder persists finished analyses
type AssessmentRecorder interface {
	LogAssessment(ctx context.Context, entry *model.AssessmentLog) error
	ListAssessments(ctx context.Context, fingerprint string, limit int) ([]model.AssessmentLog, error)
}

// Pinger is implemented by stores that can report their reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// AnalyzeEventCallback is called for streaming analysis events
type AnalyzeEventCallback func(event string, data any) error

// AnalyzeService runs the signal providers, scores the listing and caches the result
type AnalyzeService struct {
	cache      cache.Store
	risk       *RiskCalculator
	sentiment  SentimentProvider
	aiImage    AIImageProvider
	similarity SimilarityProvider
	history    AssessmentRecorder
	metrics    telemetry.Instruments
	timeout    time.Duration

	pending sync.WaitGroup
}

// NewAnalyzeService creates the orchestrator. store, history and any provider may be nil.
func NewAnalyzeService(
	store cache.Store,
	risk *RiskCalculator,
	sentiment SentimentProvider,
	aiImage AIImageProvider,
	similarity SimilarityProvider,
	history AssessmentRecorder,
	providerTimeout time.Duration,
) *AnalyzeService {
	if risk == nil {
		risk = NewRiskCalculator()
	}
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	return &AnalyzeService{
		cache:      store,
		risk:       risk,
		sentiment:  sentiment,
		aiImage:    aiImage,
		similarity: similarity,
		history:    history,
		metrics:    telemetry.NewInstruments(),
		timeout:    providerTimeout,
	}
}

// Analyze returns the assessment for a listing, from cache when possible
func (s *AnalyzeService) Analyze(ctx context.Context, req *model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	return s.run(ctx, req, nil)
}

// AnalyzeStream runs the same pipeline, emitting cache, signals, thinking,
// sentiment, ai_image, similarity and risk events as they happen
func (s *AnalyzeService) AnalyzeStream(ctx context.Context, req *model.AnalyzeRequest, callback AnalyzeEventCallback) (*model.AnalyzeResponse, error) {
	return s.run(ctx, req, callback)
}

// emitter serializes callbacks from concurrent providers and keeps the first error.
// Once closed it drops events from providers that outlived their timeout.
type emitter struct {
	mu       sync.Mutex
	callback AnalyzeEventCallback
	err      error
	closed   bool
}

func (e *emitter) emit(event string, data any) {
	if e == nil || e.callback == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.err != nil {
		return
	}
	e.err = e.callback(event, data)
}

func (e *emitter) close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *emitter) streaming() bool {
	return e != nil && e.callback != nil
}

func (e *emitter) failed() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (s *AnalyzeService) run(ctx context.Context, req *model.AnalyzeRequest, callback AnalyzeEventCallback) (resp *model.AnalyzeResponse, err error) {
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	startTime := time.Now()
	url := strings.TrimSpace(req.URL)

	ctx, end := telemetry.WithSpan(ctx, "analyze", attribute.String("listing.url", model.CanonicalURL(url)))
	defer func() { end(err) }()

	em := &emitter{callback: callback}
	defer em.close()

	if s.cache != nil && !req.ForceRefresh {
		if cached := s.fromCache(url, startTime); cached != nil {
			log.Printf("✅ Cache hit for %s", utils.Truncate(url, 80))
			em.emit("cache", map[string]any{"hit": true, "cached_at": cached.CachedAt})
			s.metrics.RecordAnalysis(ctx, true, string(cached.Risk.Level), cached.Risk.Score)
			return cached, em.failed()
		}
	}
	em.emit("cache", map[string]any{"hit": false, "force_refresh": req.ForceRefresh})

	listing := req.Data.ToListingContext(url)
	reviewImages := listing.ReviewImageURLs()
	log.Printf("🔍 Analyzing %s (%d reviews, %d with photos, %d images)",
		utils.Truncate(url, 80), len(listing.Reviews), listing.ReviewsWithPhotos(), len(listing.Images))

	plan := model.AnalyzerStatus{
		Sentiment:       isAvailable(s.sentiment) && len(listing.Reviews) > 0,
		AIImage:         isAvailable(s.aiImage) && len(listing.Images) > 0,
		ImageSimilarity: isAvailable(s.similarity) && len(listing.Images) > 0 && len(reviewImages) > 0,
	}
	em.emit("signals", plan)

	var results model.AnalysisResults
	var wg sync.WaitGroup

	if plan.Sentiment {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results.Sentiment = callProvider(ctx, s, "sentiment", func(ctx context.Context) (*model.SentimentSummary, error) {
				return s.sentiment.Analyze(ctx, listing.Reviews)
			})
			em.emit("sentiment", results.Sentiment)
		}()
	}
	if plan.AIImage {
		wg.Add(1)
		go func() {
			defer wg.Done()
			imageURL := listing.Images[0]
			results.AIImage = callProvider(ctx, s, "ai_image", func(ctx context.Context) (*model.AIImageVerdict, error) {
				if em.streaming() {
					return s.aiImage.DetectStream(ctx, imageURL, func(thinking string) {
						em.emit("thinking", map[string]any{"analyzer": "ai_image", "content": thinking})
					})
				}
				return s.aiImage.Detect(ctx, imageURL)
			})
			em.emit("ai_image", results.AIImage)
		}()
	}
	if plan.ImageSimilarity {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results.ImageSimilarity = callProvider(ctx, s, "image_similarity", func(ctx context.Context) (*model.ImageSimilarityVerdict, error) {
				return s.similarity.Compare(ctx, listing.Images, reviewImages)
			})
			em.emit("similarity", results.ImageSimilarity)
		}()
	}
	wg.Wait()

	if err := em.failed(); err != nil {
		return nil, err
	}

	_, endRisk := telemetry.WithSpan(ctx, "risk.assess")
	risk := s.risk.Assess(&listing, results.Sentiment, results.AIImage, results.ImageSimilarity)
	endRisk(nil)
	em.emit("risk", risk)

	resp = &model.AnalyzeResponse{
		AnalysisID: uuid.NewString(),
		URL:        url,
		Status:     "success",
		Received: model.ReceiptSummary{
			ReviewCount:       len(listing.Reviews),
			ReviewsWithPhotos: listing.ReviewsWithPhotos(),
			ListingImages:     len(listing.Images),
		},
		Analyzers: model.AnalyzerStatus{
			Sentiment:       results.Sentiment != nil,
			AIImage:         results.AIImage != nil,
			ImageSimilarity: results.ImageSimilarity != nil,
		},
		Results:        results,
		Risk:           risk,
		AnalyzedAt:     time.Now().UTC(),
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
	}

	log.Printf("📊 Risk for %s: %d (%s), raw %d, %d warnings",
		utils.Truncate(url, 80), risk.Score, risk.Level, risk.RawScore, len(risk.Warnings))

	s.store(url, resp)
	s.recordHistory(resp)
	s.metrics.RecordAnalysis(ctx, false, string(risk.Level), risk.Score)

	return resp, em.failed()
}

// fromCache returns the stored response, or nil on a miss or an unreadable entry
func (s *AnalyzeService) fromCache(url string, startTime time.Time) *model.AnalyzeResponse {
	entry, ok := s.cache.Get(url)
	if !ok {
		utils.Debugf("Cache miss for %s", url)
		return nil
	}

	var resp model.AnalyzeResponse
	if err := json.Unmarshal(entry.Value, &resp); err != nil {
		log.Printf("⚠️  Dropping unreadable cache entry %s: %v", entry.Key, err)
		s.cache.Delete(url)
		return nil
	}

	cachedAt := entry.CreatedAt.UTC()
	resp.FromCache = true
	resp.CachedAt = &cachedAt
	resp.ResponseTimeMs = time.Since(startTime).Milliseconds()
	return &resp
}

func (s *AnalyzeService) store(url string, resp *model.AnalyzeResponse) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("⚠️  Failed to encode response for cache: %v", err)
		return
	}
	if !s.cache.Set(url, data) {
		log.Printf("⚠️  Result for %s was not cached", utils.Truncate(url, 80))
	}
}

// recordHistory writes the assessment in the background
func (s *AnalyzeService) recordHistory(resp *model.AnalyzeResponse) {
	if s.history == nil {
		return
	}

	warnings, _ := json.Marshal(resp.Risk.Warnings)
	breakdown, _ := json.Marshal(resp.Risk.Breakdown)
	entry := &model.AssessmentLog{
		AnalysisID:     resp.AnalysisID,
		URL:            model.CanonicalURL(resp.URL),
		Fingerprint:    cache.Fingerprint(resp.URL),
		Score:          resp.Risk.Score,
		RawScore:       resp.Risk.RawScore,
		Level:          string(resp.Risk.Level),
		Warnings:       warnings,
		Breakdown:      breakdown,
		ResponseTimeMs: resp.ResponseTimeMs,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.LogAssessment(ctx, entry); err != nil {
			log.Printf("⚠️  Failed to log assessment %s: %v", entry.AnalysisID, err)
		}
	}()
}

// Wait blocks until background history writes have finished
func (s *AnalyzeService) Wait() {
	s.pending.Wait()
}

// callProvider runs one provider under the per-call timeout. Failures and
// timeouts are logged and yield nil so scoring can continue without the signal.
func callProvider[T any](ctx context.Context, s *AnalyzeService, name string, fn func(context.Context) (*T, error)) *T {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, end := telemetry.WithSpan(ctx, "provider."+name)

	type outcome struct {
		value *T
		err   error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("%s timed out: %w", name, ctx.Err())
	}
	if out.err == nil && out.value == nil {
		out.err = fmt.Errorf("%s returned no result", name)
	}

	end(out.err)
	s.metrics.RecordProvider(ctx, name, time.Since(start), out.err)
	if out.err != nil {
		log.Printf("⚠️  %s unavailable, scoring without it: %v", name, out.err)
		return nil
	}
	utils.Debugf("%s finished in %s", name, time.Since(start))
	return out.value
}

func isAvailable(p interface{ Available() bool }) bool {
	return p != nil && p.Available()
}

// CacheStats sweeps expired entries and reports the cache state
func (s *AnalyzeService) CacheStats() (cache.Stats, error) {
	if s.cache == nil {
		return cache.Stats{}, ErrCacheDisabled
	}
	return s.cache.Stats(), nil
}

// ClearCache removes one listing when url is set, otherwise every entry
func (s *AnalyzeService) ClearCache(url string) (*model.CacheClearResponse, error) {
	if s.cache == nil {
		return nil, ErrCacheDisabled
	}

	url = strings.TrimSpace(url)
	if url == "" {
		ok := s.cache.ClearAll()
		log.Printf("🗑️  Cleared all cache entries")
		return &model.CacheClearResponse{Success: ok, Message: "All cache cleared"}, nil
	}

	if s.cache.Delete(url) {
		log.Printf("🗑️  Cleared cache for %s", utils.Truncate(url, 80))
		return &model.CacheClearResponse{Success: true, Message: "Cache cleared for " + url}, nil
	}
	return &model.CacheClearResponse{Success: false, Message: "No cache entry for " + url}, nil
}

// Status reports which analyzers and stores are ready. A history store that
// fails its ping marks the service degraded; analysis still works without it.
func (s *AnalyzeService) Status(ctx context.Context) model.StatusResponse {
	status := model.StatusResponse{
		Status: "ok",
		Analyzers: model.AnalyzerStatus{
			Sentiment:       isAvailable(s.sentiment),
			AIImage:         isAvailable(s.aiImage),
			ImageSimilarity: isAvailable(s.similarity),
		},
		Cache:   s.cache != nil,
		History: s.history != nil,
	}
	if p, ok := s.history.(Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, statusPingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.Printf("⚠️  Assessment history unreachable: %v", err)
			status.Status = "degraded"
		} else {
			status.HistoryReachable = true
		}
	}
	return status
}

// History lists past assessments for a listing, newest first
func (s *AnalyzeService) History(ctx context.Context, url string, limit int) (*model.AssessmentHistoryResponse, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	logs, err := s.history.ListAssessments(ctx, cache.Fingerprint(url), limit)
	if err != nil {
		return nil, err
	}
	return &model.AssessmentHistoryResponse{
		URL:         model.CanonicalURL(url),
		Assessments: logs,
		Total:       len(logs),
	}, nil
}
