package scheduler

import "context"

// Job is a unit of work the pool executes. Implementations must be safe to
// run concurrently with other jobs.
type Job interface {
	// Execute runs the job. The context carries the pool's per-job timeout.
	Execute(ctx context.Context) error

	// UserID identifies the affected user for logging and telemetry.
	UserID() string

	// Description is a human-readable label for logs and spans.
	Description() string
}
