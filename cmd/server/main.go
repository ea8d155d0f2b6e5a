package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"listing-inspector/internal/cache"
	"listing-inspector/internal/config"
	"listing-inspector/internal/handler"
	"listing-inspector/internal/repository"
	"listing-inspector/internal/service"
	"listing-inspector/internal/telemetry"
	"listing-inspector/internal/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	log.Printf("Listing Inspector")
	log.Printf("Version: %s", Version)
	log.Printf("Build Time: %s", BuildTime)
	log.Printf("Git Commit: %s", GitCommit)
	log.Println("")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	utils.SetDebug(cfg.Logging.Debug())
	gin.SetMode(cfg.Server.GinMode)

	// Telemetry first so every instrument below binds to the real providers
	ctx := context.Background()
	shutdownMetrics := telemetry.InitMetrics(ctx, cfg.Telemetry)
	shutdownTracer := telemetry.InitTracer(ctx, cfg.Telemetry)
	defer telemetry.Flush(ctx, shutdownMetrics)
	defer telemetry.Flush(ctx, shutdownTracer)

	store := openCache(cfg.Cache)
	if store != nil {
		defer store.Close()
	}

	var repo *repository.PostgresRepository
	if cfg.PostgreSQL.Enabled {
		repo, err = repository.NewPostgresRepository(
			cfg.GetPostgreSQLDSN(),
			cfg.PostgreSQL.MaxConnections,
			cfg.PostgreSQL.MaxIdleConnections,
		)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer repo.Close()

		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare database schema: %v", err)
		}
		log.Println("✅ Connected to PostgreSQL database")
	} else {
		log.Println("⚠️  PostgreSQL is disabled - assessment history and embedding reuse are off")
	}

	var openaiClient *service.OpenAIClient
	if cfg.OpenAI.Enabled {
		openaiClient = service.NewOpenAIClient(&cfg.OpenAI)
		log.Printf("✅ OpenAI client initialized")
		log.Printf("   - API Base: %s", cfg.OpenAI.APIBase)
		log.Printf("   - Vision model: %s", cfg.OpenAI.VisionModel)
		log.Printf("   - Sentiment model: %s", cfg.OpenAI.SentimentModel)
		log.Printf("   - Embedding model: %s", cfg.OpenAI.EmbeddingModel)
		log.Printf("   - Chat Temperature: %.2f", cfg.OpenAI.ChatTemperature)
		log.Printf("   - Chat MaxTokens: %d", cfg.OpenAI.ChatMaxTokens)
		log.Printf("   - Chat ExtraBody: %s", cfg.OpenAI.ChatExtraBody)
	} else {
		log.Println("⚠️  OpenAI is disabled - risk scores will use listing metadata only")
		log.Println("   Set OPENAI_API_KEY environment variable to enable AI analyzers")
	}

	fetcher := service.NewImageFetcher(cfg.Analysis.ProviderTimeout, cfg.Analysis.MaxImageBytes)

	// Typed nils must not reach the interfaces below
	var (
		aiClient   service.AIClient
		embeddings service.EmbeddingStore
		history    service.AssessmentRecorder
	)
	if openaiClient != nil {
		aiClient = openaiClient
	}
	if repo != nil {
		embeddings = repo
		history = repo
	}

	analyzeService := service.NewAnalyzeService(
		store,
		service.NewRiskCalculator(),
		service.NewSentimentAnalyzer(aiClient, cfg.OpenAI.SentimentModel, cfg.Analysis.SentimentMaxBatch),
		service.NewAIImageDetector(aiClient, fetcher, cfg.OpenAI.VisionModel),
		service.NewImageSimilarityAnalyzer(
			aiClient, fetcher, embeddings, cfg.OpenAI.EmbeddingModel,
			cfg.Analysis.MaxListingImages, cfg.Analysis.MaxReviewImages,
		),
		history,
		cfg.Analysis.ProviderTimeout,
	)

	status := analyzeService.Status(ctx)
	log.Printf("✅ Services initialized (sentiment=%v, ai_image=%v, image_similarity=%v, history_reachable=%v)",
		status.Analyzers.Sentiment, status.Analyzers.AIImage, status.Analyzers.ImageSimilarity, status.HistoryReachable)

	statusHandler := handler.NewStatusHandler(analyzeService, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})
	analyzeHandler := handler.NewAnalyzeHandler(analyzeService)
	cacheHandler := handler.NewCacheHandler(analyzeService)
	assessmentHandler := handler.NewAssessmentHandler(analyzeService)

	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", statusHandler.Health)
	router.GET("/version", statusHandler.Version)
	router.GET("/status", statusHandler.Status)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/analyze", analyzeHandler.Analyze)
		apiV1.POST("/analyze/stream", analyzeHandler.AnalyzeStream)

		apiV1.GET("/cache/stats", cacheHandler.Stats)
		apiV1.POST("/cache/clear", cacheHandler.Clear)

		apiV1.GET("/assessments", assessmentHandler.List)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown: %v", err)
	}

	// Let in-flight history writes land before the pool closes
	analyzeService.Wait()
	log.Println("✅ Server stopped")
}

// openCache returns nil when caching is disabled or the backend cannot be opened
func openCache(cfg config.CacheConfig) cache.Store {
	if !cfg.Enabled {
		log.Println("⚠️  Result cache is disabled")
		return nil
	}

	switch cfg.Backend {
	case "bolt":
		store, err := cache.OpenBoltStore(cfg.BoltPath, cfg.BoltBucket, cfg.TTL)
		if err != nil {
			log.Printf("❌ Failed to open cache at %s, continuing without cache: %v", cfg.BoltPath, err)
			return nil
		}
		log.Printf("✅ Result cache: bolt (%s, ttl %s)", cfg.BoltPath, cfg.TTL)
		return store
	default:
		log.Printf("✅ Result cache: memory (ttl %s)", cfg.TTL)
		return cache.NewMemoryStore(cfg.TTL)
	}
}
