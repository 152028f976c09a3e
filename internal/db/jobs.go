package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, video_id, type, status, attempts
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.VideoID, job.Type, job.Status, job.Attempts,
	).Scan(&job.CreatedAt)
}

const jobColumns = `
	id, video_id, type, status, attempts,
	started_at, finished_at, error_code, error_message, created_at
`

func scanJob(row rowScanner, j *models.Job) error {
	return row.Scan(
		&j.ID, &j.VideoID, &j.Type, &j.Status, &j.Attempts,
		&j.StartedAt, &j.FinishedAt, &j.ErrorCode, &j.ErrorMessage,
		&j.CreatedAt,
	)
}

// GetJob lets the worker see whether a delivered render job already finished.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job := &models.Job{}
	err := scanJob(db.QueryRowContext(ctx, query, id), job)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeNotFound, "db.get_job", "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetVideoJobs returns the render attempts of a video, newest first.
func (db *DB) GetVideoJobs(ctx context.Context, videoID uuid.UUID) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE video_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := scanJob(rows, &job); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// UpdateJobStatus sets started_at when a job starts running and
// finished_at when it reaches a terminal status.
func (db *DB) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	now := time.Now()
	query := `UPDATE jobs SET status = $1, started_at = $2, attempts = attempts + 1 WHERE id = $3`

	if status == models.JobStatusSucceeded || status == models.JobStatusFailed {
		query = `UPDATE jobs SET status = $1, finished_at = $2 WHERE id = $3`
	}

	_, err := db.ExecContext(ctx, query, status, now, id)
	return err
}

func (db *DB) UpdateJobError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = $3, finished_at = $4
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorCode, errorMessage, time.Now(), id)
	return err
}
