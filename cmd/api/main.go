package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suplementia/search-backend/internal/clients/openai"
	"github.com/suplementia/search-backend/internal/clients/pubmed"
	"github.com/suplementia/search-backend/internal/clients/redis"
	"github.com/suplementia/search-backend/internal/data/db"
	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/handlers"
	"github.com/suplementia/search-backend/internal/jobs"
	"github.com/suplementia/search-backend/internal/observability"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
	"github.com/suplementia/search-backend/internal/server"
	"github.com/suplementia/search-backend/internal/services"
	"github.com/suplementia/search-backend/internal/vecindex"
)

func main() {
	// Logger
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "search-backend",
		Environment: envutil.Str("APP_MODE", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	supplementRepo := repos.NewSupplementRepo(thePG, log)
	discoveryRepo := repos.NewDiscoveryRepo(thePG, log)

	// Vector index
	index := vecindex.New(log, supplementRepo)
	if err := index.Load(ctx); err != nil {
		log.Fatal("Vector index load failed", "error", err)
	}

	// Outbound clients
	log.Info("Setting up clients...")
	embedder, err := openai.Shared(log)
	if err != nil {
		log.Fatal("Embedding client init failed", "error", err)
	}
	validator, err := pubmed.NewClient(log)
	if err != nil {
		log.Fatal("PubMed client init failed", "error", err)
	}
	cache, err := redis.NewSupplementCache(log)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer cache.Close()

	// Services
	log.Info("Setting up services...")
	discoveryService := services.NewDiscoveryService(
		log, validator, embedder, index, discoveryRepo, cache,
		services.DiscoveryConfigFromEnv(), rand.Float64,
	)
	searchService := services.NewSearchService(log, embedder, index, supplementRepo, cache, discoveryService)

	// Background worker
	worker := jobs.NewWorker(log, discoveryRepo, discoveryService)
	worker.Start(ctx)

	// Router
	router := server.NewRouter(server.RouterConfig{
		SearchHandler:     handlers.NewSearchHandler(log, searchService),
		SupplementHandler: handlers.NewSupplementHandler(log, embedder, index, supplementRepo, cache),
		DiscoveryHandler:  handlers.NewDiscoveryHandler(log, discoveryRepo),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	log.Info("Starting server", "addr", addr, "indexed_records", index.Size())

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(addr)
	}()
	select {
	case err := <-errCh:
		log.Error("Server stopped", "error", err)
	case <-ctx.Done():
		log.Info("Shutting down on signal")
	}

	if shutdownOtel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("Otel shutdown failed", "error", err)
		}
	}
}
