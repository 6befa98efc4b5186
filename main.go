// Package main provides the entry point of the signage publish pipeline service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/signage-publisher/app/handlers"
	"github.com/amirphl/signage-publisher/app/router"
	"github.com/amirphl/signage-publisher/app/scheduler"
	"github.com/amirphl/signage-publisher/app/services"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	stopFuncs []func()
}

func main() {
	log.Println("Starting signage publisher...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers before the HTTP server so in-flight items finish
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	logLevel := gormlogger.Silent
	if cfg.SlowQueryLog {
		logLevel = gormlogger.Warn
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(log.New(os.Stdout, "gorm ", log.LstdFlags|log.LUTC), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		log.Println("Database schema migrated")
	}

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis so lost connectivity shows up in the
// logs before the worker lock starts failing. The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 30*time.Second))

	// Repositories
	assetRepo := repository.NewAdAssetRepository(db)
	jobRepo := repository.NewUploadJobRepository(db)
	queueRepo := repository.NewPublishQueueRepository(db)
	traceRepo := repository.NewPublishTraceRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	screenRepo := repository.NewScreenRepository(db)
	placementRepo := repository.NewPlacementRepository(db)

	// External services
	signage := services.NewSignageClient(cfg.Signage)
	storage := services.NewLocalStorage(cfg.Storage.RootDir)
	transcoder := services.NewFFmpegTranscoder(cfg.Transcoder)

	// Business flows
	flowLogger := log.New(os.Stdout, "flow ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	readinessFlow := businessflow.NewReadinessFlow(assetRepo, storage, transcoder, cfg.Transcoder, db, flowLogger)
	uploadFlow := businessflow.NewUploadFlow(jobRepo, assetRepo, readinessFlow, signage, storage, cfg.Upload, flowLogger)
	publishFlow := businessflow.NewPublishFlow(assetRepo, screenRepo, locationRepo, placementRepo, traceRepo, readinessFlow, signage, cfg.Publish, flowLogger)
	seederFlow := businessflow.NewContentGuaranteeFlow(signage, cfg.Publish, flowLogger)
	healthFlow := businessflow.NewPlaybackHealthFlow(screenRepo, placementRepo, assetRepo, readinessFlow, publishFlow, seederFlow, signage, cfg.Publish, flowLogger)
	queueFlow := businessflow.NewPublishQueueFlow(queueRepo, assetRepo, readinessFlow, uploadFlow, publishFlow, cfg.Queue, db, flowLogger)

	// Background worker
	var worker *scheduler.PublishWorker
	if cfg.Worker.Enabled {
		var locker scheduler.Locker
		if rc != nil {
			locker = scheduler.NewRedisLocker(rc, cfg.Cache.RedisPrefix)
		} else {
			log.Println("Redis disabled, worker lock is process-local")
			locker = scheduler.NewLocalLocker()
		}
		workerLogger, closer := scheduler.NewWorkerLogger(cfg.Logging, cfg.Worker.LogFile)
		worker = scheduler.NewPublishWorker(queueFlow, healthFlow, locker, cfg.Worker, workerLogger)
		stopWorker := worker.Start(context.Background())
		stopFuncs = append(stopFuncs, stopWorker, func() { _ = closer.Close() })
	}

	// Handlers and router
	checks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}
	deps := router.Dependencies{
		Assets:  handlers.NewAssetHandler(readinessFlow, uploadFlow),
		Publish: handlers.NewPublishHandler(queueFlow, publishFlow, healthFlow, seederFlow),
		Queue:   handlers.NewQueueHandler(queueFlow),
		Checks:  checks,
	}
	if worker != nil {
		deps.WorkerStatus = func() any { return worker.Status() }
	}

	return &Application{
		router:    router.NewFiberRouter(cfg, deps),
		config:    cfg,
		stopFuncs: stopFuncs,
	}, nil
}
