package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/framix/framix-worker/internal/domain/entity"
	"github.com/framix/framix-worker/internal/domain/port"
)

type ProcessJobUseCase struct {
	repo      port.JobRepository
	store     port.ArtifactStore
	extractor port.FrameExtractor
	notifier  port.FailureNotifier
	metrics   port.MetricsRecorder
	locker    port.JobLocker
	logger    *zap.Logger

	bucket          string
	uploadsDir      string
	outputsDir      string
	sourceLocal     bool
	extractTimeout  time.Duration
	transferTimeout time.Duration
	statusTimeout   time.Duration
}

type ProcessJobConfig struct {
	Bucket     string
	UploadsDir string
	OutputsDir string
	// SourceLocal expects the input video pre-staged in UploadsDir instead
	// of downloading it from the artifact store.
	SourceLocal     bool
	ExtractTimeout  time.Duration
	TransferTimeout time.Duration
	StatusTimeout   time.Duration
}

func NewProcessJobUseCase(
	repo port.JobRepository,
	store port.ArtifactStore,
	extractor port.FrameExtractor,
	notifier port.FailureNotifier,
	metrics port.MetricsRecorder,
	locker port.JobLocker,
	logger *zap.Logger,
	cfg ProcessJobConfig,
) *ProcessJobUseCase {
	return &ProcessJobUseCase{
		repo:            repo,
		store:           store,
		extractor:       extractor,
		notifier:        notifier,
		metrics:         metrics,
		locker:          locker,
		logger:          logger,
		bucket:          cfg.Bucket,
		uploadsDir:      cfg.UploadsDir,
		outputsDir:      cfg.OutputsDir,
		sourceLocal:     cfg.SourceLocal,
		extractTimeout:  cfg.ExtractTimeout,
		transferTimeout: cfg.TransferTimeout,
		statusTimeout:   cfg.StatusTimeout,
	}
}

// Execute drives one job PENDING -> PROCESSING -> {COMPLETED | ERROR}.
// It returns an error only when the job failed or could not be loaded;
// containment is the caller's responsibility.
func (uc *ProcessJobUseCase) Execute(ctx context.Context, jobID int64, sourceFilename string) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessJobUseCase.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("job.id", jobID),
		attribute.String("job.source_filename", sourceFilename),
	)

	start := time.Now()
	log := uc.logger.With(zap.Int64("job_id", jobID), zap.String("source_filename", sourceFilename))

	fctx, cancel := context.WithTimeout(ctx, uc.statusTimeout)
	job, err := uc.repo.FindByID(fctx, jobID)
	cancel()
	if err != nil {
		if errors.Is(err, entity.ErrJobNotFound) {
			log.Error("job not found, nothing to process")
			return fmt.Errorf("job %d: %w", jobID, err)
		}
		return fmt.Errorf("load job: %w", err)
	}

	if job.Status == entity.JobStatusCompleted || job.Status == entity.JobStatusError {
		log.Info("job already terminal, skipping redelivery", zap.String("status", string(job.Status)))
		return nil
	}

	lockHeld := false
	acquired, err := uc.locker.Acquire(ctx, job.ID)
	if err != nil {
		log.Warn("job lock unavailable, proceeding without it", zap.Error(err))
	} else if !acquired {
		log.Info("job locked by another worker, skipping")
		return nil
	} else {
		lockHeld = true
	}

	job.MarkProcessing()
	if err := uc.updateStatus(ctx, job); err != nil {
		return fmt.Errorf("update job to PROCESSING: %w", err)
	}
	uc.metrics.RecordJobStatus(entity.JobStatusProcessing)

	videoLocalPath := filepath.Join(uc.uploadsDir, sourceFilename)
	var zipLocalPath string

	// Working files are removed and the duration observed on every exit
	// path from here on.
	defer func() {
		uc.removeLocalFiles(videoLocalPath, zipLocalPath, log)
		uc.metrics.RecordJobDuration(time.Since(start))
	}()

	srcCtx, srcSpan := tracer.Start(ctx, "acquire_source")
	if uc.sourceLocal {
		if _, err := os.Stat(videoLocalPath); err != nil {
			srcSpan.End()
			log.Error("source video not staged", zap.String("path", videoLocalPath))
			return uc.failJob(ctx, job, sourceFilename, entity.ErrSourceMissing, lockHeld, log)
		}
	} else {
		sourceKey := fmt.Sprintf("uploads/%s", sourceFilename)
		tctx, cancel := context.WithTimeout(srcCtx, uc.transferTimeout)
		err := uc.store.Download(tctx, uc.bucket, sourceKey, videoLocalPath)
		cancel()
		if err != nil {
			srcSpan.End()
			log.Error("failed to download source video", zap.String("key", sourceKey), zap.Error(err))
			return uc.failJob(ctx, job, sourceFilename, err, lockHeld, log)
		}
	}
	srcSpan.End()

	exCtx, exSpan := tracer.Start(ctx, "extract_frames")
	ectx, cancelEx := context.WithTimeout(exCtx, uc.extractTimeout)
	archiveName, err := uc.extractor.ExtractArchive(ectx, videoLocalPath, uc.outputsDir)
	cancelEx()
	exSpan.End()
	if err != nil {
		log.Error("frame extraction failed", zap.Error(err))
		return uc.failJob(ctx, job, sourceFilename, err, lockHeld, log)
	}
	zipLocalPath = filepath.Join(uc.outputsDir, archiveName)

	upCtx, upSpan := tracer.Start(ctx, "upload_archive")
	archiveKey := fmt.Sprintf("processed/%d/%s", job.ID, archiveName)
	uctx, cancelUp := context.WithTimeout(upCtx, uc.transferTimeout)
	err = uc.store.Upload(uctx, zipLocalPath, uc.bucket, archiveKey)
	cancelUp()
	upSpan.End()
	if err != nil {
		log.Error("archive upload failed", zap.String("key", archiveKey), zap.Error(err))
		return uc.failJob(ctx, job, sourceFilename, err, lockHeld, log)
	}

	job.MarkCompleted(uc.store.PublicURL(uc.bucket, archiveKey))
	if err := uc.updateStatus(ctx, job); err != nil {
		log.Error("failed to persist COMPLETED status", zap.Error(err))
		return uc.failJob(ctx, job, sourceFilename, fmt.Errorf("persist completed status: %w", err), lockHeld, log)
	}
	uc.metrics.RecordJobStatus(entity.JobStatusCompleted)

	log.Info("job completed",
		zap.String("archive_key", archiveKey),
		zap.String("artifact_location", job.ArtifactLocation),
	)
	return nil
}

func (uc *ProcessJobUseCase) updateStatus(ctx context.Context, job *entity.Job) error {
	sctx, cancel := context.WithTimeout(ctx, uc.statusTimeout)
	defer cancel()
	return uc.repo.UpdateStatus(sctx, job)
}

// failJob transitions the job to ERROR, records the failure, notifies the
// owning user when an address resolves, and returns the original cause for
// the consumption loop to contain. Storage failures carry their own
// distinguishing text in cause.Error().
func (uc *ProcessJobUseCase) failJob(ctx context.Context, job *entity.Job, sourceFilename string, cause error, lockHeld bool, log *zap.Logger) error {
	// Bookkeeping still runs when the pipeline context is already
	// cancelled or past its deadline.
	bctx := context.WithoutCancel(ctx)

	job.MarkError()
	if err := uc.updateStatus(bctx, job); err != nil {
		log.Error("failed to persist ERROR status", zap.Error(err))
	}
	uc.metrics.RecordJobStatus(entity.JobStatusError)
	uc.metrics.RecordJobError()

	ectx, cancel := context.WithTimeout(bctx, uc.statusTimeout)
	email, err := uc.repo.UserEmailByJob(ectx, job.ID)
	cancel()
	if err != nil {
		log.Warn("could not resolve user email, skipping notification", zap.Error(err))
		email = ""
	}
	if email != "" {
		// A notification failure must not mask the job failure.
		if nerr := uc.notifier.NotifyFailure(bctx, email, sourceFilename, cause.Error()); nerr != nil {
			log.Warn("failure notification not delivered", zap.String("to", email), zap.Error(nerr))
		}
	}

	if lockHeld {
		_ = uc.locker.Release(bctx, job.ID)
	}

	return cause
}

// removeLocalFiles frees the job's working files in the shared uploads and
// outputs directories; a missing file is not an error.
func (uc *ProcessJobUseCase) removeLocalFiles(videoPath, zipPath string, log *zap.Logger) {
	for _, p := range []string{videoPath, zipPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("could not remove local file", zap.String("path", p), zap.Error(err))
		}
	}
}
