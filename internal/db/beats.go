package db

import (
	"context"
	"fmt"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
)

// ReplaceBeats stores the beats of a run, replacing any earlier attempt.
func (db *DB) ReplaceBeats(ctx context.Context, videoID uuid.UUID, beats []models.BeatRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM beats WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to clear beats: %w", err)
	}

	query := `
		INSERT INTO beats (
			id, video_id, beat_index, start_sec, end_sec, duration_sec,
			script, image_url, image_credit, effect, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	for i := range beats {
		b := &beats[i]
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.VideoID = videoID
		err := tx.QueryRowContext(
			ctx, query,
			b.ID, b.VideoID, b.BeatIndex, b.StartSec, b.EndSec, b.DurationSec,
			b.Script, b.ImageURL, b.ImageCredit, b.Effect, b.Status, b.ErrorMessage,
		).Scan(&b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert beat %d: %w", b.BeatIndex, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetVideoBeats(ctx context.Context, videoID uuid.UUID) ([]models.BeatRecord, error) {
	query := `
		SELECT
			id, video_id, beat_index, start_sec, end_sec, duration_sec,
			script, image_url, image_credit, effect, status, error_message,
			created_at, updated_at
		FROM beats
		WHERE video_id = $1
		ORDER BY beat_index
	`

	rows, err := db.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query beats: %w", err)
	}
	defer rows.Close()

	var beats []models.BeatRecord
	for rows.Next() {
		var b models.BeatRecord
		err := rows.Scan(
			&b.ID, &b.VideoID, &b.BeatIndex, &b.StartSec, &b.EndSec, &b.DurationSec,
			&b.Script, &b.ImageURL, &b.ImageCredit, &b.Effect, &b.Status, &b.ErrorMessage,
			&b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan beat: %w", err)
		}
		beats = append(beats, b)
	}

	return beats, rows.Err()
}
