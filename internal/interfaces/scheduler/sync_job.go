package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"kassa/internal/domain/connection"
	syncdomain "kassa/internal/domain/sync"
)

// ConnectionSyncJob implements the Job interface for syncing one bank
// connection. The scheduler submits one job per active connection so a
// failing bank never stalls the others.
type ConnectionSyncJob struct {
	conn        *connection.Connection
	syncService *syncdomain.Service
}

// NewConnectionSyncJob creates a sync job for a single connection.
func NewConnectionSyncJob(conn *connection.Connection, syncService *syncdomain.Service) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		conn:        conn,
		syncService: syncService,
	}
}

// Execute runs the sync for this job's connection.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	log.Printf("Starting sync for connection %s (%s)", j.conn.ID, j.conn.BankName)

	result, err := j.syncService.SyncConnection(ctx, j.conn)
	if err != nil {
		log.Printf("Sync failed for connection %s: %v", j.conn.ID, err)
		return fmt.Errorf("sync failed: %w", err)
	}

	if len(result.Errors) > 0 {
		log.Printf("Sync for connection %s completed with errors: Imported=%d, Duplicates=%d, Errors=%d",
			j.conn.ID, result.Imported, result.Duplicates, len(result.Errors))
		// Return error so the run is marked for retry
		return fmt.Errorf("sync completed with %d errors", len(result.Errors))
	}

	log.Printf("Sync for connection %s completed successfully: Imported=%d, Duplicates=%d",
		j.conn.ID, result.Imported, result.Duplicates)

	return nil
}

// UserID returns the owner of this job's connection.
func (j *ConnectionSyncJob) UserID() string {
	return strconv.FormatInt(j.conn.UserID, 10)
}

// Description returns a human-readable description of the job.
func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("Sync for connection %s (%s)", j.conn.ID, j.conn.BankName)
}

// purger is anything with expiring entries that wants a periodic sweep.
type purger interface {
	PurgeExpired() int
}

// StatePurgeJob sweeps expired entries out of the in-memory authorization
// state store. Expired states already fail validation; the sweep just
// reclaims memory between authorization attempts.
type StatePurgeJob struct {
	store purger
}

func NewStatePurgeJob(store purger) *StatePurgeJob {
	return &StatePurgeJob{store: store}
}

func (j *StatePurgeJob) Execute(ctx context.Context) error {
	if purged := j.store.PurgeExpired(); purged > 0 {
		log.Printf("Purged %d expired authorization states", purged)
	}
	return nil
}

func (j *StatePurgeJob) UserID() string { return "system" }

func (j *StatePurgeJob) Description() string { return "Authorization state purge" }
