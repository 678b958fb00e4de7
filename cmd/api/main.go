// climateqa-api serves the multilingual climate question-answering pipeline
// over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/cache"
	"github.com/climateqa/climateqa/internal/classifier"
	"github.com/climateqa/climateqa/internal/config"
	"github.com/climateqa/climateqa/internal/faithfulness"
	"github.com/climateqa/climateqa/internal/generator"
	"github.com/climateqa/climateqa/internal/handlers"
	"github.com/climateqa/climateqa/internal/language"
	"github.com/climateqa/climateqa/internal/observability"
	"github.com/climateqa/climateqa/internal/pipeline"
	"github.com/climateqa/climateqa/internal/providers/claude"
	"github.com/climateqa/climateqa/internal/providers/cohere"
	"github.com/climateqa/climateqa/internal/retriever"
	"github.com/climateqa/climateqa/internal/vectordb"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	// Cache store
	redisClient := cache.NewRedisClient(cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	defer redisClient.Close()

	queryCache := cache.NewQueryCache(redisClient, cache.QueryCacheConfig{
		TTLSeconds:     cfg.Cache.TTLSeconds,
		RecentListSize: cfg.Cache.RecentListSize,
		FuzzyScanLimit: cfg.Cache.FuzzyScanLimit,
		FuzzyThreshold: cfg.Cache.FuzzyThreshold,
	}, logger)

	// Vector index
	index, err := vectordb.NewQdrantIndex(vectordb.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
	}, logger)
	if err != nil {
		return err
	}
	defer index.Close()

	// Model backends
	claudeClient := claude.NewClient(claude.Config{
		APIKey:  cfg.Claude.APIKey,
		BaseURL: cfg.Claude.BaseURL,
		Model:   cfg.Claude.Model,
		Timeout: cfg.Claude.Timeout,
	}, logger)
	cohereClient := cohere.NewClient(cohere.Config{
		APIKey:      cfg.Cohere.APIKey,
		BaseURL:     cfg.Cohere.BaseURL,
		ChatModel:   cfg.Cohere.ChatModel,
		EmbedModel:  cfg.Cohere.EmbedModel,
		RerankModel: cfg.Cohere.RerankModel,
		Timeout:     cfg.Cohere.Timeout,
	}, logger)

	// Pipeline stages
	router := language.NewRouter(logger)
	clf := classifier.NewAdapter(claudeClient, logger)
	ret := retriever.New(cohereClient, index, cohereClient, retriever.Config{
		Candidates: cfg.Retriever.TopK,
		TopN:       cfg.Retriever.FinalN,
	}, logger)
	gen := generator.New(claudeClient, cohereClient, claudeClient, redisClient, generator.Config{
		ResponseCacheEnabled: cfg.Generator.ResponseCacheEnabled,
		ResponseCacheTTL:     cfg.Generator.ResponseCacheTTL,
	}, logger)
	guard := faithfulness.NewGuard(
		faithfulness.NewLLMScorer(claudeClient, logger),
		cfg.Faithfulness.Threshold,
		cfg.Faithfulness.DegradedFloor,
		logger,
	)

	budgets := pipeline.DefaultBudgets()
	budgets.TranslateIn = cfg.Budgets.TranslateIn
	budgets.Classify = cfg.Budgets.Classify
	budgets.CacheLookup = cfg.Budgets.CacheLookup
	budgets.Retrieve = cfg.Budgets.Retrieve
	budgets.Generate = cfg.Budgets.Generate
	budgets.Faithfulness = cfg.Budgets.Faithfulness
	budgets.TranslateOut = cfg.Budgets.TranslateOut
	budgets.CacheWrite = cfg.Budgets.CacheWrite
	budgets.RequestDeadline = cfg.Budgets.RequestDeadline

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	pipe := pipeline.New(router, claudeClient, clf, queryCache, ret, gen, guard, budgets, metrics, logger)

	// HTTP server
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/v1")
	handlers.NewQueryHandler(pipe, logger).RegisterRoutes(v1)
	handlers.NewHealthHandler(map[string]handlers.CheckFunc{
		"redis":  redisClient.Ping,
		"qdrant": index.HealthCheck,
	}, logger).RegisterRoutes(v1)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
