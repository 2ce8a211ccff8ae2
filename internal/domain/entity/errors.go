package entity

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id from the queue has no row in the database.
var ErrJobNotFound = errors.New("job not found")

// ErrSourceMissing is returned in local source mode when the staged input
// video is not in the uploads directory.
var ErrSourceMissing = errors.New("source video not staged in uploads directory")

// StorageError marks a failure in the artifact store so callers can word
// user-facing notifications differently from other pipeline failures.
type StorageError struct {
	Op  string // "download" or "upload"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation failed (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
