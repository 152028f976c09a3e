package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const videoColumns = `
	id, topic, keywords, config, status, progress, current_step,
	total_duration_sec, narration_degraded, degraded_reason,
	final_video_asset_id, report_asset_id, error_code, error_message,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner, v *models.Video) error {
	var keywords []string
	err := row.Scan(
		&v.ID, &v.Topic, pq.Array(&keywords), &v.Config, &v.Status,
		&v.Progress, &v.CurrentStep, &v.TotalDurationSec,
		&v.NarrationDegraded, &v.DegradedReason,
		&v.FinalVideoAssetID, &v.ReportAssetID,
		&v.ErrorCode, &v.ErrorMessage,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return err
	}
	v.Config.Keywords = keywords
	return nil
}

func (db *DB) CreateVideo(ctx context.Context, video *models.Video) error {
	query := `
		INSERT INTO videos (
			id, topic, keywords, config, status, progress, current_step
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		video.ID, video.Topic, pq.Array(video.Config.Keywords), video.Config,
		video.Status, video.Progress, video.CurrentStep,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
}

func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video := &models.Video{}
	err := scanVideo(db.QueryRowContext(ctx, query, id), video)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeNotFound, "db.get_video", "video %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// ListVideos returns videos newest first, optionally filtered by status.
func (db *DB) ListVideos(ctx context.Context, status string, limit, offset int) ([]models.Video, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + videoColumns + ` FROM videos`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}

	return videos, rows.Err()
}

// CountVideos returns the number of videos, optionally filtered by status.
func (db *DB) CountVideos(ctx context.Context, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE status = $1`, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&count)
	return count, err
}

// UpdateVideoProgress records the pipeline stage. Progress never moves
// backwards for a video.
func (db *DB) UpdateVideoProgress(ctx context.Context, id uuid.UUID, status models.VideoStatus, progress int, step string) error {
	query := `
		UPDATE videos
		SET status = $1, progress = GREATEST(progress, $2), current_step = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, status, progress, step, id)
	return err
}

// SetVideoNarration records the picture-lock length and narration outcome.
func (db *DB) SetVideoNarration(ctx context.Context, id uuid.UUID, totalDuration float64, degraded bool, reason *string) error {
	query := `
		UPDATE videos
		SET total_duration_sec = $1, narration_degraded = $2, degraded_reason = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, totalDuration, degraded, reason, id)
	return err
}

func (db *DB) UpdateVideoError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	query := `
		UPDATE videos
		SET status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.VideoStatusFailed, errorCode, errorMessage, id)
	return err
}

// CompleteVideo links the uploaded assets and marks the video completed.
func (db *DB) CompleteVideo(ctx context.Context, videoID, finalAssetID uuid.UUID, reportAssetID *uuid.UUID) error {
	query := `
		UPDATE videos
		SET final_video_asset_id = $1, report_asset_id = $2, status = $3,
			progress = 100, current_step = 'completed', updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, finalAssetID, reportAssetID, models.VideoStatusCompleted, videoID)
	return err
}
