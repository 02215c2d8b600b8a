package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wellnessplan/progress-app/internal/api"
	"wellnessplan/progress-app/internal/clock"
	"wellnessplan/progress-app/internal/config"
	"wellnessplan/progress-app/internal/lock"
	"wellnessplan/progress-app/internal/repository/mongo"
	"wellnessplan/progress-app/internal/scheduler"
	"wellnessplan/progress-app/internal/service"
	"wellnessplan/progress-app/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @title Wellness Plan Progress API
// @version 1.0
// @description Plan-day progression: assignment, hold/resume and daily advancement.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}

	// --- Logger ---
	var sugar *zap.SugaredLogger
	if cfg.Log.Development {
		sugar = logger.NewDevelopment()
	} else if sugar, err = logger.New(cfg.Log.Level); err != nil {
		log.Fatalf("FATAL: Could not build logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()
	sugar.Info("Starting progress server...")

	if cfg.JWT.Secret == "" {
		sugar.Fatal("jwt.secret is required")
	}

	clk, err := clock.New(cfg.Scheduler.Timezone)
	if err != nil {
		sugar.Fatalw("invalid scheduler.timezone", "error", err)
	}

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		sugar.Fatalw("could not connect to MongoDB", "error", err)
	}
	defer func() {
		sugar.Info("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			sugar.Errorw("failed to disconnect MongoDB", "error", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)

	// --- Ensure Indexes ---
	go func() { // Run index creation in the background
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := mongo.EnsureIndexes(ctx, appDB); err != nil {
			sugar.Errorw("index creation failed", "error", err)
			return
		}
		sugar.Info("Index creation process completed.")
	}()

	// --- Per-user locks ---
	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis)
		cancel()
		if err != nil {
			sugar.Fatalw("could not connect to Redis", "error", err)
		}
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedis(rdb, lock.Options{Expiry: cfg.Lock.Expiry, Tries: cfg.Lock.Tries})
		sugar.Infow("using distributed user locks", "redis", cfg.Redis.Addr)
	} else {
		locker = lock.NewLocal()
		sugar.Warn("redis.addr not set; user locks are process-local")
	}

	// --- Initialize Repositories ---
	userRepo := mongo.NewMongoUserRepository(appDB)
	planRepo := mongo.NewMongoPlanRepository(appDB)
	historyRepo := mongo.NewMongoHistoryRepository(appDB)

	// --- Initialize Services ---
	progressionService := service.NewProgressionService(userRepo, planRepo, historyRepo, locker, clk, sugar.Named("progression"))
	planService := service.NewPlanService(planRepo, userRepo, historyRepo, sugar.Named("plans"))
	advancementService := service.NewAdvancementService(userRepo, planRepo, historyRepo, locker, clk, cfg.Scheduler.Workers, sugar.Named("advancement"))

	// --- Scheduler ---
	var cronScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		cronScheduler, err = scheduler.New(advancementService, cfg.Scheduler, sugar.Named("scheduler"))
		if err != nil {
			sugar.Fatalw("could not create scheduler", "error", err)
		}
		cronScheduler.Start()
	}

	// --- Initialize Gin Engine ---
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, cfg.JWT.Secret, sugar.Named("http"), progressionService, planService, advancementService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sugar.Infow("Server starting", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("ListenAndServe error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if cronScheduler != nil {
		cronScheduler.Stop(ctxShutdown)
	}
	if err := server.Shutdown(ctxShutdown); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
	}

	sugar.Info("Server exiting.")
}
