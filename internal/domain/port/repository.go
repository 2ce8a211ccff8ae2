package port

import (
	"context"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type JobRepository interface {
	FindByID(ctx context.Context, id int64) (*entity.Job, error)
	UpdateStatus(ctx context.Context, job *entity.Job) error
	UserEmailByJob(ctx context.Context, jobID int64) (string, error)
}
