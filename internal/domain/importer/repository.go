package importer

import (
	"context"
)

// JobRepository defines the interface for import job persistence.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error

	// Update persists the job's counters, status, row errors and finish time.
	Update(ctx context.Context, job *Job) error

	GetByID(ctx context.Context, id string) (*Job, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Job, error)
}
