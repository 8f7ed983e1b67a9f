package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"kassa/internal/domain/importer"
)

type ImportJobRepository struct {
	db *DB
}

func NewImportJobRepository(db *DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

const importJobColumns = `id, user_id, connection_id, source, status, total_rows, imported,
       duplicates, failed, row_errors, started_at, finished_at`

func (r *ImportJobRepository) Create(ctx context.Context, job *importer.Job) error {
	query := `
		INSERT INTO import_jobs (id, user_id, connection_id, source, status, total_rows, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.ConnectionID, job.Source, job.Status, job.TotalRows, job.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) Update(ctx context.Context, job *importer.Job) error {
	rowErrors, err := json.Marshal(job.RowErrors)
	if err != nil {
		return fmt.Errorf("failed to encode row errors: %w", err)
	}

	query := `
		UPDATE import_jobs
		SET status = $1, imported = $2, duplicates = $3, failed = $4, row_errors = $5, finished_at = $6
		WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		job.Status, job.Imported, job.Duplicates, job.Failed, rowErrors, job.FinishedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return importer.ErrJobNotFound
	}
	return nil
}

func (r *ImportJobRepository) GetByID(ctx context.Context, id string) (*importer.Job, error) {
	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE id = $1`

	job, err := scanImportJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *ImportJobRepository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*importer.Job, error) {
	query := `SELECT ` + importJobColumns + `
		FROM import_jobs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*importer.Job
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import jobs: %w", err)
	}
	return jobs, nil
}

func scanImportJob(s scanner) (*importer.Job, error) {
	var job importer.Job
	var connectionID sql.NullString
	var finishedAt sql.NullTime
	var rowErrors []byte

	err := s.Scan(
		&job.ID, &job.UserID, &connectionID, &job.Source, &job.Status,
		&job.TotalRows, &job.Imported, &job.Duplicates, &job.Failed,
		&rowErrors, &job.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if connectionID.Valid {
		job.ConnectionID = &connectionID.String
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if len(rowErrors) > 0 {
		if err := json.Unmarshal(rowErrors, &job.RowErrors); err != nil {
			return nil, fmt.Errorf("failed to decode row errors: %w", err)
		}
	}
	return &job, nil
}
