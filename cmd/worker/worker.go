package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"luma-backend/internal/config"
	"luma-backend/internal/crawler"
	"luma-backend/internal/database"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/logger"
	"luma-backend/internal/queue"
	"luma-backend/internal/telemetry"
	"luma-backend/services"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg, "luma-worker")
	if err != nil {
		log.Fatal("Failed to initialize tracing:", err)
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	store := database.NewMongoStore(mongoClient.Database(cfg.DBName), metrics)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// the worker writes token records, so API replicas must hear about it
	cache, err := indexcache.New(store, services.IndexCacheOptions(cfg, metrics))
	if err != nil {
		log.Fatal("Failed to create index cache:", err)
	}
	if err := indexcache.NewRedisBus(rdb, cfg.IndexInvalidationChannel).Attach(ctx, cache); err != nil {
		log.Fatal("Failed to subscribe to index invalidations:", err)
	}

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to configure queue:", err)
	}
	queueClient := queue.NewClient(redisOpt)
	defer queueClient.Close()

	splitter, err := services.SplitterFrom(cfg)
	if err != nil {
		log.Fatal("Failed to configure chunker:", err)
	}
	retrieval := services.NewRetrievalService(store, cache, services.RetrievalConfigFrom(cfg), metrics)
	library := services.NewLibraryService(store, retrieval, splitter)
	scraper := crawler.NewScraper(crawler.ConfigFrom(cfg, metrics))
	extraction := services.NewExtractionService(store, library, scraper, queueClient, cfg.JobTTL)
	maintenance := services.NewMaintenanceService(cache, store)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Error("Task failed", "type", task.Type(), "retry", retried, "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(extraction, maintenance).Register(mux)

	periodic := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := periodic.Register("@hourly", queue.NewPurgeJobsTask()); err != nil {
		log.Fatal("Failed to schedule job purge:", err)
	}

	logger.Info("Starting worker", "concurrency", cfg.WorkerConcurrency, "render_js", cfg.ScraperRenderJS)
	if err := server.Start(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
	if err := periodic.Start(); err != nil {
		log.Fatal("Failed to start scheduler:", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down worker")
	periodic.Shutdown()
	server.Shutdown()
}
