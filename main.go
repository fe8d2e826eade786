package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sarthak2477/Legal-Document-Processor/config"
	"github.com/Sarthak2477/Legal-Document-Processor/handler"
	"github.com/Sarthak2477/Legal-Document-Processor/middleware"
	"github.com/Sarthak2477/Legal-Document-Processor/pkg/logger"
	"github.com/Sarthak2477/Legal-Document-Processor/service"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}
	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	service.InitContractStore(&cfg.Store)
	store := service.GetContractStore()

	index, cleanup, err := buildVectorIndex(cfg)
	if err != nil {
		slog.Error("failed to initialize vector index", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	embedder := service.NewOllamaEmbedder(&cfg.Embedding)
	generator := service.NewOllamaGenerator(&cfg.LLM)

	stages := []service.StageAdapter{
		service.NewExtractionStage(minioSvc),
		service.NewSegmentationStage(),
		service.NewNormalizationStage(),
		service.NewEmbeddingStage(embedder, index),
	}
	registry := service.NewJobRegistry()
	orchestrator := service.NewOrchestrator(store, registry, index, stages, &cfg.Pipeline)
	queryEngine := service.NewQueryEngine(store, index, embedder, generator, &cfg.Query)

	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler(minioSvc, orchestrator, index)
	ragHandler := handler.NewRAGHandler(queryEngine)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateLimitWindow()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/contracts/upload", contractHandler.Upload)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.GET("/contracts/:id/status", contractHandler.GetStatus)
		protected.POST("/contracts/:id/reprocess", contractHandler.Reprocess)
		protected.POST("/contracts/:id/cancel", contractHandler.Cancel)
		protected.DELETE("/contracts/:id", contractHandler.Delete)

		protected.POST("/rag/query", ragHandler.Query)
		protected.POST("/rag/risks", ragHandler.Risks)
		protected.POST("/rag/summary", ragHandler.Summary)
		protected.POST("/rag/checklist", ragHandler.Checklist)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// buildVectorIndex selects the vector index driver from configuration.
func buildVectorIndex(cfg *config.Config) (service.VectorIndex, func(), error) {
	switch cfg.Vector.Driver {
	case "pgvector":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		idx, err := service.NewPgvectorIndex(ctx, cfg.Vector.Postgres, cfg.Vector.Dimension)
		if err != nil {
			return nil, nil, err
		}
		if err := idx.Init(ctx); err != nil {
			idx.Close()
			return nil, nil, err
		}
		slog.Info("vector index initialized", "driver", "pgvector", "dimension", cfg.Vector.Dimension)
		return idx, idx.Close, nil
	case "memory":
		slog.Info("vector index initialized", "driver", "memory")
		return service.NewMemoryIndex(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown vector driver %q", cfg.Vector.Driver)
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
