package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"convertd/api"
	"convertd/config"
	"convertd/convert"
	"convertd/engine"
	"convertd/hub"
	"convertd/models"
	"convertd/services"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log.Info("Starting convertd conversion service...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []engine.Option{
		engine.WithNotifier(services.NewWebhookNotifier(cfg.WebhookTimeout, log)),
	}

	// Redis is optional; when configured it mirrors terminal statuses
	// for external pollers.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Info("Connected to Redis successfully")
		opts = append(opts, engine.WithRedis(redisClient))
	}

	var store engine.Store
	if cfg.DatabaseURL != "" {
		dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbSvc.Close()
		if err := dbSvc.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Info("Connected to database successfully")
		store = dbSvc
	} else {
		log.Warn("No DB_HOST configured, using in-memory job store")
		store = services.NewMemoryStore()
	}

	converters := convert.NewRegistry()
	if cfg.GotenbergURL != "" {
		converters.Register(models.TypeDocument, services.NewGotenbergService(cfg.GotenbergURL).Func())
		log.Infof("Gotenberg document converter enabled: %s", cfg.GotenbergURL)
	}

	if cfg.S3Bucket != "" {
		opts = append(opts, engine.WithExporter(services.NewS3Exporter(cfg)))
		log.Infof("S3 export enabled: bucket %s", cfg.S3Bucket)
	}

	eng := engine.New(cfg, store, hub.New(cfg.ProgressBuffer), converters, log, opts...)

	go eng.CleanupLoop(ctx)

	mux := http.NewServeMux()
	api.NewJobHandler(eng, log).Register(mux)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Infof("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Infof("Engine ready: %d concurrent jobs, retry limit %d", cfg.MaxConcurrentJobs, cfg.MaxRetries)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received, draining jobs...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}

	if eng.Wait(30 * time.Second) {
		log.Info("All jobs drained gracefully")
	} else {
		log.Warn("Shutdown timeout, some jobs may be incomplete")
	}

	eng.Hub().Close()
	if redisClient != nil {
		redisClient.Close()
	}
	log.Info("Conversion service stopped")
}
