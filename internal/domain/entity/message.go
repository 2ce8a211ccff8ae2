package entity

import "errors"

// JobMessage is the inbound message from the video.processing queue.
type JobMessage struct {
	JobID          int64  `json:"job_id"`
	SourceFilename string `json:"source_filename"`
}

// Validate reports the first missing required field.
func (m JobMessage) Validate() error {
	if m.JobID == 0 {
		return errors.New("missing job_id")
	}
	if m.SourceFilename == "" {
		return errors.New("missing source_filename")
	}
	return nil
}
