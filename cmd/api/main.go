package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/storyreel/internal/api"
	"github.com/bobarin/storyreel/internal/app"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/worker"
)

func main() {
	log.Println("Starting Storyreel API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateService(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(migrateCtx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	bucket := cfg.SupabaseStorageBucket
	if cfg.StorageBackend == storage.BackendS3 {
		bucket = cfg.S3Bucket
	}
	stor, err := storage.New(context.Background(), storage.Options{
		Backend:            cfg.StorageBackend,
		SupabaseURL:        cfg.SupabaseURL,
		SupabaseServiceKey: cfg.SupabaseServiceKey,
		Bucket:             bucket,
		Region:             cfg.S3Region,
		Endpoint:           cfg.S3Endpoint,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Initialized %s storage (bucket: %s)", cfg.StorageBackend, stor.Bucket())

	handler := api.NewHandler(database, q, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerDone := make(chan struct{})
	workerCtx, workerCancel := context.WithCancel(context.Background())
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		producer, err := app.NewProducer(cfg)
		if err != nil {
			log.Fatalf("Failed to build producer: %v", err)
		}

		w := worker.New(database, q, stor, producer, cfg.RenderWorkDir)
		go func() {
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
			close(workerDone)
		}()
	} else {
		close(workerDone)
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	select {
	case <-workerDone:
	case <-ctx.Done():
		log.Println("Worker did not stop in time")
	}

	log.Println("Server exited")
}
