package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/framix/framix-worker/internal/domain/entity"
	"github.com/framix/framix-worker/internal/domain/port"
	"github.com/framix/framix-worker/internal/infra/config"
	"github.com/framix/framix-worker/internal/infra/ffmpeg"
	"github.com/framix/framix-worker/internal/infra/metrics"
	"github.com/framix/framix-worker/internal/infra/notify"
	"github.com/framix/framix-worker/internal/infra/postgres"
	"github.com/framix/framix-worker/internal/infra/rabbitmq"
	"github.com/framix/framix-worker/internal/infra/redislock"
	"github.com/framix/framix-worker/internal/infra/storage"
	"github.com/framix/framix-worker/internal/infra/tracing"
	"github.com/framix/framix-worker/internal/usecase"
	"github.com/framix/framix-worker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	workerID := uuid.NewString()
	log = log.With(zap.String("worker_id", workerID))
	log.Info("starting framix-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, workerID)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Shared working directories
	for _, dir := range []string{cfg.UploadsDir, cfg.OutputsDir} {
		fatalOnErr(os.MkdirAll(dir, 0o755), "create working directory "+dir)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// Artifact store
	store, err := storage.New(ctx, storage.Config{
		Backend:            cfg.StorageBackend,
		MinIOEndpoint:      cfg.MinIOEndpoint,
		MinIOAccessKey:     cfg.MinIOAccessKey,
		MinIOSecretKey:     cfg.MinIOSecretKey,
		MinIOUseSSL:        cfg.MinIOUseSSL,
		S3Region:           cfg.S3Region,
		S3AccessKey:        cfg.S3AccessKey,
		S3SecretKey:        cfg.S3SecretKey,
		GCSProject:         cfg.GCSProject,
		GCSCredentialsJSON: cfg.GCSCredentialsJSON,
	})
	fatalOnErr(err, "create artifact store")
	fatalOnErr(store.EnsureBucket(ctx, cfg.StorageBucket), "ensure storage bucket")

	// Job lock (optional)
	var locker port.JobLocker = redislock.Nop{}
	if cfg.RedisURL != "" {
		rl, err := redislock.New(cfg.RedisURL, cfg.JobLockTTL, workerID)
		fatalOnErr(err, "create redis job lock")
		if err := rl.Ping(ctx); err != nil {
			log.Warn("redis unreachable at boot, job lock degraded until it recovers", zap.Error(err))
		}
		defer rl.Close()
		locker = rl
	}

	// Notifier
	var notifier port.FailureNotifier = notify.NewLogNotifier(log)
	if strings.EqualFold(cfg.NotificationMethod, "smtp") {
		notifier = notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)
	}

	var sourceLocal bool
	switch strings.ToLower(cfg.SourceMode) {
	case "download":
	case "local":
		sourceLocal = true
	default:
		fatalOnErr(fmt.Errorf("unknown SOURCE_MODE %q", cfg.SourceMode), "validate config")
	}

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	extractor := ffmpeg.NewExtractor(cfg.FFmpegFPS, cfg.FFmpegFormat, log)
	rec := metrics.NewRecorder(prometheus.NewRegistry())

	// Use case
	uc := usecase.NewProcessJobUseCase(
		repo, store, extractor, notifier, rec, locker, log,
		usecase.ProcessJobConfig{
			Bucket:          cfg.StorageBucket,
			UploadsDir:      cfg.UploadsDir,
			OutputsDir:      cfg.OutputsDir,
			SourceLocal:     sourceLocal,
			ExtractTimeout:  cfg.ExtractTimeout,
			TransferTimeout: cfg.TransferTimeout,
			StatusTimeout:   cfg.StatusTimeout,
		},
	)

	// Metrics server
	var ready atomic.Bool
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, rec, ready.Load, log)

	// Broker connection, retried until the broker accepts
	rmqConn, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, log)
	if err != nil {
		log.Info("shutdown before broker connection established", zap.Error(err))
		return
	}
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn)
	fatalOnErr(err, "create rabbitmq publisher")
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	consumer, err := rabbitmq.NewConsumer(rmqConn, rabbitmq.ConsumerConfig{
		Queue:       cfg.RabbitMQQueue,
		DLQ:         cfg.RabbitMQDLQ,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		OnReady: func() {
			ready.Store(true)
			log.Info("framix-worker started, consuming messages")
		},
	}, func(ctx context.Context, msg entity.JobMessage) error {
		return uc.Execute(ctx, msg.JobID, msg.SourceFilename)
	}, dlqPub, log)
	fatalOnErr(err, "create consumer")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer stopped", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	pub.Close()
	log.Info("framix-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
