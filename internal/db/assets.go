package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
)

const assetColumns = `
	id, video_id, type, storage_bucket, storage_path,
	content_type, byte_size, created_at
`

func scanAsset(row rowScanner, a *models.Asset) error {
	return row.Scan(
		&a.ID, &a.VideoID, &a.Type, &a.StorageBucket, &a.StoragePath,
		&a.ContentType, &a.ByteSize, &a.CreatedAt,
	)
}

// CreateAsset records an uploaded artifact of a video.
func (db *DB) CreateAsset(ctx context.Context, asset *models.Asset) error {
	query := `
		INSERT INTO assets (
			id, video_id, type, storage_bucket,
			storage_path, content_type, byte_size
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		asset.ID, asset.VideoID, asset.Type,
		asset.StorageBucket, asset.StoragePath, asset.ContentType, asset.ByteSize,
	).Scan(&asset.CreatedAt)
}

func (db *DB) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`

	asset := &models.Asset{}
	err := scanAsset(db.QueryRowContext(ctx, query, id), asset)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeNotFound, "db.get_asset", "asset %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// GetVideoAssetByType returns the newest asset of typ for a video. A rerun
// uploads a fresh master and report, so older rows of the same type are stale.
func (db *DB) GetVideoAssetByType(ctx context.Context, videoID uuid.UUID, typ models.AssetType) (*models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE video_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	asset := &models.Asset{}
	err := scanAsset(db.QueryRowContext(ctx, query, videoID, typ), asset)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeNotFound, "db.get_video_asset", "video %s has no %s asset", videoID, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s asset: %w", typ, err)
	}
	return asset, nil
}

// GetVideoAssets lists every artifact of a video, masters first.
func (db *DB) GetVideoAssets(ctx context.Context, videoID uuid.UUID) ([]models.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE video_id = $1
		ORDER BY (type = $2) DESC, created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, videoID, models.AssetTypeFinalVideo)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		if err := scanAsset(rows, &asset); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}
