package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greentrace/carbon-backend/internal/conf"
	"github.com/greentrace/carbon-backend/internal/data"
	filestorebiz "github.com/greentrace/carbon-backend/internal/filestore/biz"
	filestoredata "github.com/greentrace/carbon-backend/internal/filestore/data"
	filestoremodels "github.com/greentrace/carbon-backend/internal/filestore/models"
	idembiz "github.com/greentrace/carbon-backend/internal/idempotency/biz"
	idemdata "github.com/greentrace/carbon-backend/internal/idempotency/data"
	idemmodels "github.com/greentrace/carbon-backend/internal/idempotency/models"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/workerpool"
	quotabiz "github.com/greentrace/carbon-backend/internal/quota/biz"
	quotadata "github.com/greentrace/carbon-backend/internal/quota/data"
	quotamodels "github.com/greentrace/carbon-backend/internal/quota/models"
	"github.com/greentrace/carbon-backend/internal/server"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}

	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize global logger
	if err := logger.InitGlobal(logConfig); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Run migrations
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := filestoremodels.AutoMigrate(migrateCtx, d.DB); err != nil {
		log.Fatal("failed to migrate filestore tables", zap.Error(err))
	}
	if err := idemmodels.AutoMigrate(migrateCtx, d.DB); err != nil {
		log.Fatal("failed to migrate idempotency tables", zap.Error(err))
	}
	if err := quotamodels.AutoMigrate(migrateCtx, d.DB); err != nil {
		log.Fatal("failed to migrate quota tables", zap.Error(err))
	}

	// Initialize repositories
	fileRepo := filestoredata.NewFileRepo(d.DB)
	blobStore := filestoredata.NewBlobStore(d.MinIOClient)
	recordRepo := idemdata.NewRecordRepo(d.DB)
	counterRepo := quotadata.NewCounterRepo(d.DB)

	// Initialize use cases
	fileStore := filestorebiz.NewFileStoreUseCase(fileRepo, blobStore, log)
	gate := idembiz.NewGate(&config.Idempotency, recordRepo, log)
	ledger, err := quotabiz.NewLedger(&config.Quota, counterRepo, log)
	if err != nil {
		log.Fatal("invalid quota configuration", zap.Error(err))
	}

	// Background sweepers share a bounded worker pool
	pool, err := workerpool.New(4, log)
	if err != nil {
		log.Fatal("failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	startSweeper(sweepCtx, pool, config.Idempotency.SweepInterval, log, "idempotency", func(ctx context.Context) error {
		_, err := gate.Sweep(ctx)
		return err
	})
	startSweeper(sweepCtx, pool, config.Quota.SweepInterval, log, "quota", func(ctx context.Context) error {
		_, err := ledger.SweepExpired(ctx)
		return err
	})

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(config, log, gate, fileStore, ledger, d.RedisClient)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	sweepCancel()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// startSweeper 以固定间隔把清扫任务投给工作池
func startSweeper(ctx context.Context, pool *workerpool.Pool, interval time.Duration, log *logger.Logger, name string, sweep func(ctx context.Context) error) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := pool.Submit(func() {
					if err := sweep(ctx); err != nil {
						log.Error("sweep failed", zap.String("sweeper", name), zap.Error(err))
					}
				}); err != nil {
					log.Warn("failed to submit sweep task", zap.String("sweeper", name), zap.Error(err))
				}
			}
		}
	}()
}
