package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/rostersync/internal/api"
	"github.com/rpattn/rostersync/internal/config"
	"github.com/rpattn/rostersync/internal/db"
	"github.com/rpattn/rostersync/internal/delta"
	"github.com/rpattn/rostersync/internal/detector"
	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/ingestion"
	"github.com/rpattn/rostersync/internal/ledger"
	"github.com/rpattn/rostersync/internal/middleware"
	"github.com/rpattn/rostersync/internal/planner"
	"github.com/rpattn/rostersync/internal/repository"
	"github.com/rpattn/rostersync/internal/tracker"
)

// loggingSynchronizer stands in until a provider sync client is wired; it
// reports every planned entity as synced.
type loggingSynchronizer struct{}

func (loggingSynchronizer) SyncEntities(ctx context.Context, plan domain.IncrementalSyncPlan, syncCtx domain.SyncContext) (tracker.SyncOutcome, error) {
	log.Printf("[SYNC] executing plan for %s: %d entities, priority %s", plan.EntityType, len(plan.EntitiesToSync), plan.Priority)
	return tracker.SyncOutcome{Synced: len(plan.EntitiesToSync)}, nil
}

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	changeRecordRepo := repository.NewChangeRecordRepository(conn.Pool)
	compressedRepo := repository.NewCompressedChangeRepository(conn.Pool)
	syncRunRepo := repository.NewSyncRunRepository(conn.Pool)
	entityStateRepo := repository.NewEntityStateRepository(conn.Pool)

	// Create services
	ledgerSvc, err := ledger.NewService(changeRecordRepo, compressedRepo, ledger.Config{
		RetentionDays:       cfg.Tracking.RetentionDays,
		CompressionDays:     cfg.Tracking.CompressionDays,
		CompressionEnabled:  cfg.Tracking.CompressionEnabled,
		BatchChunkSize:      cfg.Tracking.BatchChunkSize,
		MaxWriteConcurrency: cfg.Tracking.MaxWriteConcurrency,
		MaxQueryLimit:       cfg.Tracking.MaxQueryLimit,
		DefaultQueryLimit:   ledger.DefaultConfig().DefaultQueryLimit,
		TopEntityCount:      ledger.DefaultConfig().TopEntityCount,
	})
	if err != nil {
		log.Fatalf("Failed to create ledger service: %v", err)
	}

	detectorCfg := detector.DefaultConfig()
	detectorCfg.Policy.DefaultConfidence = cfg.Tracking.DefaultConfidence
	det, err := detector.NewDetector(detectorCfg)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.ScoreThreshold = cfg.Tracking.ScoreThreshold
	plan := planner.New(plannerCfg)

	calculator := delta.NewCalculator(detectorCfg.Policy)

	notifier := tracker.NotifierFunc(func(ctx context.Context, change domain.EntityChange) {
		log.Printf("[NOTIFY] %s change on %s %s (%s, score %.1f)",
			change.ChangeType, change.EntityType, change.EntityID, change.Significance, change.ChangeScore)
	})

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.EnableNotifications = cfg.Tracking.NotificationsEnabled
	trackerSvc := tracker.NewService(
		det,
		ledgerSvc,
		plan,
		tracker.NewRepositoryStateProvider(entityStateRepo),
		loggingSynchronizer{},
		nil,
		notifier,
		syncRunRepo,
		trackerCfg,
	)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := middleware.LoggingMiddleware(api.NewHTTPHandler(trackerSvc, ledgerSvc, calculator))
	uploadHandler := middleware.LoggingMiddleware(ingestion.NewHTTPHandler(calculator))

	mux := http.NewServeMux()
	mux.Handle("/api/delta/files", corsHandler.Handler(uploadHandler))
	mux.Handle("/api/", corsHandler.Handler(apiHandler))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting change tracking server on %s", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
