package entity

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusError      JobStatus = "ERROR"
)

type Job struct {
	ID               int64
	UserID           int64
	SourceFilename   string
	Status           JobStatus
	ArtifactLocation string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(artifactLocation string) {
	j.Status = JobStatusCompleted
	j.ArtifactLocation = artifactLocation
	j.UpdatedAt = time.Now().UTC()
}

// MarkError also clears ArtifactLocation: only COMPLETED jobs carry one.
func (j *Job) MarkError() {
	j.Status = JobStatusError
	j.ArtifactLocation = ""
	j.UpdatedAt = time.Now().UTC()
}
