package port

import (
	"time"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type MetricsRecorder interface {
	RecordJobStatus(status entity.JobStatus)
	RecordJobError()
	RecordJobDuration(d time.Duration)
}
