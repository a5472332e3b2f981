package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"luma-backend/internal/auth"
	"luma-backend/internal/config"
	"luma-backend/internal/database"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/logger"
	"luma-backend/internal/queue"
	"luma-backend/internal/scheduler"
	"luma-backend/internal/telemetry"
	"luma-backend/middleware"
	"luma-backend/routes"
	"luma-backend/services"

	"github.com/gin-gonic/gin"
)

const serviceName = "luma-api"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg, serviceName)
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

	cache, err := indexcache.New(store, services.IndexCacheOptions(cfg, metrics))
	if err != nil {
		log.Fatal("Failed to create index cache:", err)
	}
	bus := indexcache.NewRedisBus(rdb, cfg.IndexInvalidationChannel)
	if err := bus.Attach(ctx, cache); err != nil {
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
	// extraction jobs run in the worker; the API only submits them
	extraction := services.NewExtractionService(store, library, nil, queueClient, cfg.JobTTL)

	maintenance := services.NewMaintenanceService(cache, store)
	sched := scheduler.NewScheduler(time.Minute)
	if err := maintenance.Register(sched, cfg.IndexStaleSweep); err != nil {
		log.Fatal("Failed to schedule maintenance:", err)
	}
	sched.Start()
	defer sched.Stop()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiresIn, rdb)
	if err != nil {
		log.Fatal("Failed to configure tokens:", err)
	}
	authMiddleware := middleware.NewAuthMiddleware(issuer)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.TracingMiddleware(serviceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimiterFrom(rdb, cfg).Middleware())

	routes.SetupHealthRoutes(router,
		routes.HealthCheck{Name: "mongo", Check: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
		routes.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	routes.SetupAuthRoutes(router, issuer, authMiddleware)
	routes.SetupSearchRoutes(router, retrieval, library, authMiddleware, cfg.MaxRequestBytes)
	routes.SetupLibraryRoutes(router, library, authMiddleware)
	routes.SetupExtractionRoutes(router, extraction, authMiddleware, cfg.MaxRequestBytes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "advanced_rag", cfg.AdvancedRAG, "node", bus.NodeID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server exited")
}
