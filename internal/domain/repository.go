package domain

import "context"

// JobRepository is the persistence port for job records. Update must be
// atomic per call; implementations guard terminal rows so completed/failed
// jobs are write-once.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, update JobUpdate) error
}
