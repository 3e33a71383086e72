package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/config"
	"github.com/nlpgrid/nlp-service/internal/cache"
	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/handlers"
	"github.com/nlpgrid/nlp-service/internal/inference"
	"github.com/nlpgrid/nlp-service/internal/middleware"
	"github.com/nlpgrid/nlp-service/internal/orchestrator"
	"github.com/nlpgrid/nlp-service/internal/queue"
	"github.com/nlpgrid/nlp-service/internal/rag"
	"github.com/nlpgrid/nlp-service/internal/sweepers"
	"github.com/nlpgrid/nlp-service/internal/telemetry"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
	"github.com/nlpgrid/nlp-service/internal/workers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting NLP service")

	ctx := context.Background()

	telemetryCleanup := telemetry.MustInit(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	})

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx, database.Pool()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ensure schema")
	}
	logger.Info().Msg("Database connected")

	resultCache := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.Cache.TTL,
		Enabled:  cfg.Cache.Enabled,
	})
	defer resultCache.Close()

	if resultCache.Enabled() {
		if err := resultCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("Cache unreachable, results will not be cached")
		}
	}

	inferenceClient := inference.New(inference.Config{
		BaseURL:           cfg.Inference.BaseURL,
		APIKey:            cfg.Inference.APIKey,
		Timeout:           cfg.Inference.Timeout,
		MaxRetries:        cfg.Inference.MaxRetries,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
	})

	retriever := rag.New(rag.Config{
		BaseURL:        cfg.RAG.BaseURL,
		APIKey:         cfg.RAG.APIKey,
		Timeout:        cfg.RAG.Timeout,
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		Enabled:        cfg.RAG.Enabled,
	})

	taskStore := database.NewTaskStore(database.Pool())
	jobStore := database.NewJobStore(database.Pool())
	webhookStore := database.NewWebhookStore(database.Pool())

	dispatcher := webhooks.NewDispatcher(webhookStore, webhooks.Config{
		MaxRetries:  cfg.Webhook.MaxRetries,
		RetryDelay:  cfg.Webhook.RetryDelay,
		Timeout:     cfg.Webhook.Timeout,
		MaxFailures: cfg.Webhook.MaxFailures,
	})

	orch := orchestrator.New(taskStore, resultCache, inferenceClient, retriever, dispatcher)
	coordinator := orchestrator.NewCoordinator(jobStore, taskStore, orch, dispatcher, cfg.Worker.BatchWorkers)

	workQueue := queue.New(database.Pool(), 3)
	dispatcher.UseQueue(workQueue)

	hostname, _ := os.Hostname()
	worker := workers.New(workQueue, workers.Config{
		WorkerID:   hostname,
		NumWorkers: cfg.Worker.NumWorkers,
		MaxClaim:   cfg.Worker.MaxClaim,
		PollDelay:  cfg.Worker.PollDelay,
	})
	worker.RegisterHandler(queue.OpProcessTask, workers.TaskHandler(orch))
	worker.RegisterHandler(queue.OpProcessBatch, workers.BatchHandler(coordinator))
	worker.RegisterHandler(queue.OpSendWebhook, workers.WebhookHandler(dispatcher))
	worker.Start(ctx)

	sweeper := sweepers.NewQueueSweeper(workQueue, logger, cfg.Worker.SweepInterval, cfg.Worker.StuckThreshold)
	go sweeper.Start(ctx)

	handlers.Init(orch, coordinator, workQueue, webhookStore, dispatcher, resultCache)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyMiddleware())
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimit))
	{
		nlpGroup := api.Group("/nlp")
		{
			nlpGroup.POST("/classify", handlers.Classify)
			nlpGroup.POST("/extract-entities", handlers.ExtractEntities)
			nlpGroup.POST("/summarize", handlers.Summarize)
			nlpGroup.POST("/analyze-sentiment", handlers.AnalyzeSentiment)
			nlpGroup.GET("/task/:id", handlers.GetTask)
			nlpGroup.DELETE("/task/:id", handlers.CancelTask)
			nlpGroup.POST("/cache/invalidate/:taskType", handlers.InvalidateCache)
		}

		batch := api.Group("/batch")
		{
			batch.POST("/submit", handlers.SubmitBatch)
			batch.GET("/status/:id", handlers.GetBatchStatus)
			batch.GET("/results/:id", handlers.GetBatchResults)
			batch.POST("/cancel/:id", handlers.CancelBatch)
		}

		webhookGroup := api.Group("/webhooks")
		{
			webhookGroup.POST("", handlers.CreateWebhook)
			webhookGroup.GET("", handlers.ListWebhooks)
			webhookGroup.GET("/:id", handlers.GetWebhook)
			webhookGroup.DELETE("/:id", handlers.DeleteWebhook)
			webhookGroup.POST("/:id/reactivate", handlers.ReactivateWebhook)
			webhookGroup.POST("/:id/test", handlers.TestWebhook)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	sweeper.Stop()
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := telemetryCleanup(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Telemetry shutdown failed")
	}

	logger.Info().Msg("Server exited")
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "nlp-service").Logger()
	zlog.Logger = logger
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
