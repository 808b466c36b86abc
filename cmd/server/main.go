package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragcore/internal/cache"
	"github.com/connexus-ai/ragcore/internal/config"
	"github.com/connexus-ai/ragcore/internal/gcpclient"
	"github.com/connexus-ai/ragcore/internal/handler"
	"github.com/connexus-ai/ragcore/internal/middleware"
	"github.com/connexus-ai/ragcore/internal/repository"
	"github.com/connexus-ai/ragcore/internal/service"
)

const Version = "0.1.0"

// app bundles every wired dependency the router needs, plus everything that
// must be shut down cleanly.
type app struct {
	cfg              *config.Config
	traceBuffer      *service.TraceBuffer
	hourlyMetrics    *service.MetricsAggregator
	queryCache       *cache.QueryCache
	router           *chi.Mux
	redisClient      *redis.Client
	neo4jDriver      neo4j.DriverWithContext
	retentionSweeper *repository.TraceRetentionSweeper
	retentionCancel  context.CancelFunc
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("main: connect database: %w", err)
	}

	embedAdapter, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("main: create embedding client: %w", err)
	}
	genaiAdapter, err := gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
	if err != nil {
		return nil, fmt.Errorf("main: create genai client: %w", err)
	}

	chunkRepo := repository.NewChunkRepo(pool)
	docRepo := repository.NewDocumentRepo(pool)
	lineageRepo := repository.NewLineageRepo(pool)
	traceRepo := repository.NewTraceRepo(pool)
	retrievalResultRepo := repository.NewRetrievalResultRepo(pool)
	metricsRepo := repository.NewMetricsRepo(pool)
	traceQueryService := service.NewTraceQueryService(traceRepo)

	var neo4jDriver neo4j.DriverWithContext
	if cfg.Neo4jURI != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			slog.Warn("main: neo4j driver unavailable, lineage graph mirror disabled", "error", err)
		} else {
			neo4jDriver = driver
			lineageRepo.SetGraph(repository.NewLineageGraph(driver))
		}
	}

	var retentionSweeper *repository.TraceRetentionSweeper
	var retentionCancel context.CancelFunc
	if sweeper, err := repository.NewTraceRetentionSweeper(cfg.DatabaseURL); err != nil {
		slog.Warn("main: trace retention sweeper unavailable", "error", err)
	} else {
		retentionSweeper = sweeper
		var retentionCtx context.Context
		retentionCtx, retentionCancel = context.WithCancel(context.Background())
		go sweeper.RunDaily(retentionCtx, cfg.RagTraceRetentionDays)
	}

	registry := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(registry)
	hourlyMetrics := service.NewMetricsAggregator(metricsRepo)

	traceBuffer := service.NewTraceBuffer(traceRepo)
	traceBuffer.SetPersistence(cfg.RagTracePersistence)
	traceBuffer.OnDrop(metrics.RecordTraceDrop)

	chunker := service.NewChunkerService()
	embedder := service.NewEmbedderService(embedAdapter, chunkRepo)
	embedder.OnEmbeddingCall(func() {
		metrics.RecordEmbeddingCall()
		hourlyMetrics.IncEmbeddingCall()
	})
	pipeline := service.NewPipelineService(chunker, embedder, lineageRepo, chunkRepo, traceBuffer)
	docService := service.NewDocumentService(docRepo, pipeline, traceBuffer)
	docService.SetMetricsAggregator(hourlyMetrics)

	dense := service.NewDenseSearcher(chunkRepo, cfg.SemanticThreshold, cfg.TopK)
	dense.OnSearch(func() {
		metrics.RecordVectorSearch()
		hourlyMetrics.IncVectorSearch()
	})
	fuser := service.NewFuser()
	fuser.SemanticWeight = cfg.SemanticWeight
	fuser.KeywordWeight = cfg.KeywordWeight
	fuser.SemanticThreshold = cfg.SemanticThreshold

	reranker := service.NewReranker()
	reranker.DiversityWeight = cfg.DiversityWeight
	reranker.RecencyWeight = cfg.RecencyWeight
	reranker.ImportanceWeight = cfg.ImportanceWeight
	reranker.LLM = genaiAdapter

	synthesizer := service.NewSynthesizer()
	synthesizer.MaxTokens = cfg.MaxTokens
	synthesizer.LLM = genaiAdapter

	evaluator := service.NewEvaluator(cfg.SemanticThreshold, cfg.KeywordWeight)

	embeddingCache := cache.NewEmbeddingCache(time.Duration(cfg.EmbeddingCacheTTLSeconds) * time.Second)
	queryEmbedder := cache.NewCachingEmbedder(embedAdapter, embeddingCache)

	orchestrator := service.NewRetrievalOrchestrator(
		queryEmbedder,
		dense,
		chunkRepo,
		fuser,
		reranker,
		synthesizer,
		evaluator,
		lineageRepo,
		traceBuffer,
	)
	orchestrator.SetResultsStore(retrievalResultRepo)
	orchestrator.SetMetricsAggregator(hourlyMetrics)

	queryCache := cache.New(time.Duration(cfg.QueryCacheTTLSeconds) * time.Second)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("main: invalid REDIS_URL, shared query cache tier disabled", "error", err)
		} else {
			redisClient = redis.NewClient(opts)
			queryCache.SetRedisTier(cache.NewRedisQueryTier(redisClient))
		}
	}

	router := newRouter(docService, docRepo, orchestrator, evaluator, traceQueryService, queryCache, metrics, registry)

	return &app{
		cfg:              cfg,
		traceBuffer:      traceBuffer,
		hourlyMetrics:    hourlyMetrics,
		queryCache:       queryCache,
		router:           router,
		redisClient:      redisClient,
		neo4jDriver:      neo4jDriver,
		retentionSweeper: retentionSweeper,
		retentionCancel:  retentionCancel,
	}, nil
}

func newRouter(docService *service.DocumentService, docRepo service.DocumentRepository, orchestrator *service.RetrievalOrchestrator, evaluator *service.Evaluator, traces *service.TraceQueryService, queryCache *cache.QueryCache, metrics *middleware.Metrics, registry *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging)
	r.Use(middleware.Monitoring(metrics))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, Version)
	})
	r.Handle("/metrics", middleware.MetricsHandler(registry))

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", handler.IngestDocument(docService))
		r.Get("/", handler.ListDocuments(docRepo))
		r.Get("/{id}", handler.GetDocument(docRepo))
		r.Delete("/{id}", handler.DeleteDocument(docRepo))
	})

	r.Post("/api/query", handler.Query(handler.QueryDeps{Orchestrator: orchestrator, Cache: queryCache}))

	r.Post("/api/evaluate", handler.Evaluate(evaluator))
	r.Post("/api/feedback", handler.RecordFeedback(evaluator))
	r.Post("/api/autotune", handler.AutoTune(evaluator))

	r.Route("/api/traces", func(r chi.Router) {
		r.Get("/", handler.ListTraces(traces))
		r.Get("/{traceId}", handler.GetTrace(traces))
	})

	return r
}

func getPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return fmt.Sprintf("%d", cfg.Port)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := buildApp(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}

	port := getPort(cfg)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragcore starting", "version", Version, "port", port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.traceBuffer.Shutdown()
	a.hourlyMetrics.Shutdown()
	a.queryCache.Stop()
	if a.retentionCancel != nil {
		a.retentionCancel()
	}
	if a.retentionSweeper != nil {
		_ = a.retentionSweeper.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.neo4jDriver != nil {
		_ = a.neo4jDriver.Close(shutdownCtx)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
