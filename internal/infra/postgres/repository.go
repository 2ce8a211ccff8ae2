package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) FindByID(ctx context.Context, id int64) (*entity.Job, error) {
	query := `
		SELECT id, user_id, source_filename, status,
			COALESCE(artifact_location, ''), created_at, updated_at
		FROM jobs WHERE id=$1`

	job := &entity.Job{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.SourceFilename, &status,
		&job.ArtifactLocation, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, job *entity.Job) error {
	// Empty ArtifactLocation is stored as NULL so the column is set only
	// for completed jobs.
	query := `
		UPDATE jobs SET
			status=$2, artifact_location=NULLIF($3, ''), updated_at=$4
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ArtifactLocation, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (r *JobRepository) UserEmailByJob(ctx context.Context, jobID int64) (string, error) {
	query := `
		SELECT COALESCE(u.email, '')
		FROM jobs j JOIN users u ON u.id = j.user_id
		WHERE j.id=$1`

	var email string
	err := r.pool.QueryRow(ctx, query, jobID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up user email: %w", err)
	}
	return email, nil
}
