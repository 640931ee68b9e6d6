package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"starmus-recorder/conf"
	"starmus-recorder/controller"
	"starmus-recorder/controller/middleware"
	"starmus-recorder/database"
	"starmus-recorder/logging"
	"starmus-recorder/model/dao"
	"starmus-recorder/service/upload_service"
	"starmus-recorder/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the recorder submission API",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// app wired process components
type app struct {
	cfg      *conf.Config
	logger   *logging.Logger
	db       database.Database
	redis    *redis.Client
	srv      *http.Server
	cleanup  *upload_service.CleanupProcessor
	webhooks *upload_service.WebhookProcessor
}

func runServer() error {
	a, err := initAll()
	if err != nil {
		return err
	}
	defer a.close()

	a.cleanup.Start()
	if a.webhooks != nil {
		a.webhooks.Start()
	}

	errChan := make(chan error, 1)
	go startServer(a.srv, errChan)
	a.logger.Info(context.Background(), "recorder API started", zap.String("addr", a.srv.Addr),
		zap.String("env", string(conf.SystemEnvironment)))

	var serveErr error
	select {
	case serveErr = <-errChan:
	case sig := <-waitForShutdown():
		a.logger.Info(context.Background(), "shutting down", zap.String("signal", sig.String()))
		shutdownServer(a.srv, a.cfg.Server.ShutdownTimeout, a.logger)
	}

	a.cleanup.Stop()
	if a.webhooks != nil {
		a.webhooks.Stop()
	}
	a.logger.Info(context.Background(), "server exited")
	return serveErr
}

// initAll initialize all components
func initAll() (*app, error) {
	if err := conf.InitConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := conf.Cfg

	logger, err := logging.NewZap(conf.IsDevelopment())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.RedirectStdLog(logger.Zap())
	if !conf.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info(context.Background(), "configuration loaded",
		zap.String("env", string(conf.SystemEnvironment)), zap.String("port", cfg.Server.Port),
		zap.String("db", cfg.Database.Type), zap.String("storage", cfg.Storage.Type))

	a := &app{cfg: cfg, logger: logger}

	a.db, err = initDatabase(cfg.Database, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Redis is optional. Rate limits and locks fall back to process memory.
	a.redis, err = database.NewRedisClient(context.Background(), cfg.Redis, logger)
	if err != nil {
		logger.Warn(context.Background(), "redis unavailable, using in-process limits and locks", zap.Error(err))
		a.redis = nil
	}

	stor, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info(context.Background(), "storage initialized", zap.String("type", stor.Type()))

	cache := database.NewCache(a.redis, time.Duration(cfg.Redis.CacheTTL)*time.Second)
	records := dao.NewSubmissionRecordDAO(a.db, cache, logger)
	assets := dao.NewMediaAssetDAO(a.db)

	chunks := upload_service.NewChunkStore(cfg.Uploader.StagingDir, cfg.Uploader.MaxFileSize)
	if err := chunks.EnsureDirectory(); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to prepare staging directory: %w", err)
	}

	finalizer := upload_service.NewFinalizer(records, assets, stor, cfg.Uploader.RedirectUrlTemplate, logger,
		upload_service.NewLogObserver(logger))
	if a.redis != nil && cfg.Hooks.PublishChannel != "" {
		finalizer.AddObserver(upload_service.NewRedisPublishObserver(a.redis, cfg.Hooks.PublishChannel, logger))
	}
	if len(cfg.Hooks.Webhooks) > 0 {
		a.webhooks = upload_service.NewWebhookProcessor(cfg.Hooks.Webhooks, cfg.Hooks.WebhookTimeout,
			cfg.Hooks.WebhookWorkers, logger)
		finalizer.AddObserver(a.webhooks)
	}

	submissionLimit, annotationLimit := cfg.Uploader.SubmissionLimit, cfg.Uploader.AnnotationLimit
	uploadService := upload_service.NewUploadService(upload_service.UploadServiceDeps{
		Chunks:            chunks,
		SubmissionLimiter: upload_service.NewRateLimiter(upload_service.RateLimitScopeSubmission, submissionLimit.Limit, submissionLimit.Window, a.redis, logger),
		AnnotationLimiter: upload_service.NewRateLimiter(upload_service.RateLimitScopeAnnotation, annotationLimit.Limit, annotationLimit.Window, a.redis, logger),
		Locker:            upload_service.NewUploadLocker(cfg.Uploader.LockTimeout, cfg.Uploader.LockTtl, a.redis, logger),
		Finalizer:         finalizer,
		Records:           records,
		EnforceTotalSize:  cfg.Uploader.EnforceTotalSize,
		Logger:            logger,
	})

	router := controller.SetupRouter(controller.RouterDeps{
		Config:        cfg,
		UploadService: uploadService,
		Storage:       stor,
		Auth:          middleware.NewTokenAuthenticator(cfg.Auth),
		Logger:        logger,
	})

	a.srv = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.cleanup = upload_service.NewCleanupProcessor(
		upload_service.NewSweeper(cfg.Uploader.StagingDir, cfg.Uploader.TempMaxAge, logger),
		cfg.Uploader.SweepInterval,
	)
	return a, nil
}

// initDatabase initialize database based on configuration
func initDatabase(cfg conf.DatabaseConfig, logger *logging.Logger) (database.Database, error) {
	dbType := database.DBType(cfg.Type)

	switch dbType {
	case database.DBTypeMySQL:
		return database.NewDatabase(dbType, &database.MySQLConfig{
			DSN:          cfg.Dsn,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
			Logger:       logger,
		})
	case database.DBTypePebble:
		return database.NewDatabase(dbType, &database.PebbleConfig{
			DataDir: cfg.DataDir,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("%w: %s", database.ErrUnsupportedDBType, cfg.Type)
	}
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error(context.Background(), "failed to close database", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error(context.Background(), "failed to close redis", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// startServer start HTTP server
func startServer(srv *http.Server, errChan chan<- error) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("failed to start server: %w", err)
	}
}

// waitForShutdown wait for shutdown signal
func waitForShutdown() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

// shutdownServer gracefully shutdown server
func shutdownServer(srv *http.Server, timeout time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
}
