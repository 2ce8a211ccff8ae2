package port

import "context"

// JobLocker guards against concurrent or repeated processing of the same
// job, typically after a broker redelivery. Acquire returns false when
// another holder already owns the job.
type JobLocker interface {
	Acquire(ctx context.Context, jobID int64) (bool, error)
	Release(ctx context.Context, jobID int64) error
}
