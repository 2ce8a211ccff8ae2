package integration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/framix/framix-worker/internal/domain/entity"
	"github.com/framix/framix-worker/internal/infra/ffmpeg"
	"github.com/framix/framix-worker/internal/infra/metrics"
	"github.com/framix/framix-worker/internal/infra/notify"
	"github.com/framix/framix-worker/internal/infra/postgres"
	"github.com/framix/framix-worker/internal/infra/rabbitmq"
	"github.com/framix/framix-worker/internal/infra/redislock"
	"github.com/framix/framix-worker/internal/infra/storage"
	"github.com/framix/framix-worker/internal/usecase"
	"github.com/framix/framix-worker/pkg/logger"
)

const (
	testBucket = "framix-media"
	testQueue  = "video.processing"
	testDLQ    = "video.processing.dlq"
)

type testStack struct {
	pool          *pgxpool.Pool
	rmqConn       *amqp.Connection
	minioClient   *miniogo.Client
	minioEndpoint string
	uc            *usecase.ProcessJobUseCase
	uploadsDir    string
	outputsDir    string
}

// startStack brings up Postgres, RabbitMQ and MinIO containers and wires the
// full worker on top of them, the same composition cmd/worker performs.
func startStack(t *testing.T, ctx context.Context) *testStack {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("framix_db"),
		tcpostgres.WithUsername("framix"),
		tcpostgres.WithPassword("framix"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	t.Cleanup(func() { rmqContainer.Terminate(ctx) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { minioContainer.Terminate(ctx) })

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../migrations"))

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := storage.New(ctx, storage.Config{
		Backend:        storage.BackendMinIO,
		MinIOEndpoint:  minioEndpoint,
		MinIOAccessKey: "minioadmin",
		MinIOSecretKey: "minioadmin",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx, testBucket))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	t.Cleanup(func() { rmqConn.Close() })

	log, _ := logger.New("debug")
	uploadsDir := t.TempDir()
	outputsDir := t.TempDir()

	uc := usecase.NewProcessJobUseCase(
		postgres.NewJobRepository(pool),
		store,
		ffmpeg.NewExtractor(1, "png", log),
		notify.NewLogNotifier(log),
		metrics.NewRecorder(prometheus.NewRegistry()),
		redislock.Nop{},
		log,
		usecase.ProcessJobConfig{
			Bucket:          testBucket,
			UploadsDir:      uploadsDir,
			OutputsDir:      outputsDir,
			ExtractTimeout:  2 * time.Minute,
			TransferTimeout: time.Minute,
			StatusTimeout:   10 * time.Second,
		},
	)

	return &testStack{
		pool:          pool,
		rmqConn:       rmqConn,
		minioClient:   minioClient,
		minioEndpoint: minioEndpoint,
		uc:            uc,
		uploadsDir:    uploadsDir,
		outputsDir:    outputsDir,
	}
}

func (s *testStack) startConsumer(t *testing.T, ctx context.Context, handle rabbitmq.MessageHandler) {
	t.Helper()

	log, _ := logger.New("debug")
	pub, err := rabbitmq.NewPublisher(s.rmqConn)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	var ready atomic.Bool
	consumer, err := rabbitmq.NewConsumer(s.rmqConn, rabbitmq.ConsumerConfig{
		Queue:       testQueue,
		DLQ:         testDLQ,
		Prefetch:    1,
		WorkerCount: 1,
		OnReady:     func() { ready.Store(true) },
	}, handle, rabbitmq.NewDLQPublisher(pub, testDLQ), log)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	go consumer.Start(ctx)
	require.Eventually(t, ready.Load, 10*time.Second, 50*time.Millisecond,
		"consumer should report ready once the delivery stream is open")
}

func (s *testStack) insertJob(t *testing.T, ctx context.Context, filename string) int64 {
	t.Helper()

	var userID int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO users (email) VALUES ('user@framix.io') RETURNING id",
	).Scan(&userID)
	require.NoError(t, err)

	var jobID int64
	err = s.pool.QueryRow(ctx,
		"INSERT INTO jobs (user_id, source_filename, status) VALUES ($1, $2, 'PENDING') RETURNING id",
		userID, filename,
	).Scan(&jobID)
	require.NoError(t, err)
	return jobID
}

func (s *testStack) publish(t *testing.T, ctx context.Context, body []byte) {
	t.Helper()

	ch, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", testQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	require.NoError(t, err)
}

func (s *testStack) waitForStatus(t *testing.T, ctx context.Context, jobID int64, timeout time.Duration) (string, string) {
	t.Helper()

	deadline := time.After(timeout)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for job %d to reach a terminal status", jobID)
		case <-tick.C:
			var status, location string
			err := s.pool.QueryRow(ctx,
				"SELECT status, COALESCE(artifact_location, '') FROM jobs WHERE id=$1", jobID,
			).Scan(&status, &location)
			require.NoError(t, err)
			if status == "COMPLETED" || status == "ERROR" {
				return status, location
			}
		}
	}
}

func stageTestVideo(t *testing.T) string {
	t.Helper()

	path := filepath.Join("..", "testdata", "test.mp4")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("test video not found at tests/testdata/test.mp4 - generate it with: ffmpeg -f lavfi -i testsrc=duration=2:size=320x240:rate=1 -c:v libx264 -pix_fmt yuv420p tests/testdata/test.mp4")
	}
	return path
}

func TestProcessJobEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stack := startStack(t, ctx)
	videoPath := stageTestVideo(t)

	_, err := stack.minioClient.FPutObject(ctx, testBucket, "uploads/test.mp4", videoPath,
		miniogo.PutObjectOptions{ContentType: "video/mp4"})
	require.NoError(t, err)

	jobID := stack.insertJob(t, ctx, "test.mp4")

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	stack.startConsumer(t, consumerCtx, func(ctx context.Context, msg entity.JobMessage) error {
		return stack.uc.Execute(ctx, msg.JobID, msg.SourceFilename)
	})

	body, err := json.Marshal(entity.JobMessage{JobID: jobID, SourceFilename: "test.mp4"})
	require.NoError(t, err)
	stack.publish(t, ctx, body)

	status, location := stack.waitForStatus(t, ctx, jobID, 2*time.Minute)
	assert.Equal(t, "COMPLETED", status)

	archiveKey := fmt.Sprintf("processed/%d/test.zip", jobID)
	assert.Equal(t, fmt.Sprintf("http://%s/%s/%s", stack.minioEndpoint, testBucket, archiveKey), location)

	// The archive must exist in the store and contain frames.
	tmpZip := filepath.Join(t.TempDir(), "result.zip")
	err = stack.minioClient.FGetObject(ctx, testBucket, archiveKey, tmpZip, miniogo.GetObjectOptions{})
	require.NoError(t, err)

	zipReader, err := zip.OpenReader(tmpZip)
	require.NoError(t, err)
	defer zipReader.Close()

	pngCount := 0
	for _, f := range zipReader.File {
		if strings.HasSuffix(f.Name, ".png") {
			pngCount++
		}
	}
	assert.Greater(t, pngCount, 0, "archive should contain PNG frames")

	// Working files are gone from both directories.
	assertDirEmpty(t, stack.uploadsDir)
	assertDirEmpty(t, stack.outputsDir)

	// Nothing was parked on the DLQ for a successful job.
	assertDLQEmpty(t, stack.rmqConn)
}

func TestMalformedMessageDropped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	stack := startStack(t, ctx)

	var handlerCalls atomic.Int64
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	stack.startConsumer(t, consumerCtx, func(ctx context.Context, msg entity.JobMessage) error {
		handlerCalls.Add(1)
		return nil
	})

	// Invalid JSON and a message missing job_id are both undeliverable
	// input: acknowledged, never processed, never dead-lettered.
	stack.publish(t, ctx, []byte(`{invalid json`))
	stack.publish(t, ctx, []byte(`{"source_filename":"test.mp4"}`))
	time.Sleep(2 * time.Second)

	assert.Zero(t, handlerCalls.Load(), "malformed messages must never reach the pipeline")
	assertDLQEmpty(t, stack.rmqConn)
	assertQueueDrained(t, stack.rmqConn, testQueue)

	var jobRows int64
	require.NoError(t, stack.pool.QueryRow(ctx, "SELECT count(*) FROM jobs").Scan(&jobRows))
	assert.Zero(t, jobRows, "no repository writes for undeliverable input")
}

func TestFailedJobIsDeadLettered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	stack := startStack(t, ctx)

	// Job exists but its source object was never uploaded, so the
	// pipeline fails at the download step and records ERROR.
	jobID := stack.insertJob(t, ctx, "missing.mp4")

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	stack.startConsumer(t, consumerCtx, func(ctx context.Context, msg entity.JobMessage) error {
		return stack.uc.Execute(ctx, msg.JobID, msg.SourceFilename)
	})

	body, err := json.Marshal(entity.JobMessage{JobID: jobID, SourceFilename: "missing.mp4"})
	require.NoError(t, err)
	stack.publish(t, ctx, body)

	status, location := stack.waitForStatus(t, ctx, jobID, time.Minute)
	assert.Equal(t, "ERROR", status)
	assert.Empty(t, location, "failed jobs carry no artifact location")

	ch, err := stack.rmqConn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	var dlqMsg amqp.Delivery
	var ok bool
	require.Eventually(t, func() bool {
		dlqMsg, ok, err = ch.Get(testDLQ, true)
		return err == nil && ok
	}, 10*time.Second, 500*time.Millisecond, "failed job should be parked on the DLQ")

	assert.JSONEq(t, string(body), string(dlqMsg.Body), "DLQ carries the original message body")
	reason, _ := dlqMsg.Headers["x-dlq-reason"].(string)
	assert.Contains(t, reason, "storage operation failed (download)")

	assertDirEmpty(t, stack.uploadsDir)
	assertDirEmpty(t, stack.outputsDir)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "directory %s should be empty", dir)
}

func assertDLQEmpty(t *testing.T, conn *amqp.Connection) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	_, ok, err := ch.Get(testDLQ, true)
	require.NoError(t, err)
	assert.False(t, ok, "DLQ should be empty")
}

func assertQueueDrained(t *testing.T, conn *amqp.Connection, queue string) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	require.NoError(t, err)
	assert.Zero(t, q.Messages, "queue %s should have been drained by acks", queue)
}
