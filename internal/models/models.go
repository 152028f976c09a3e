package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusScripting  VideoStatus = "scripting"
	VideoStatusSourcing   VideoStatus = "sourcing"
	VideoStatusAssembling VideoStatus = "assembling"
	VideoStatusNarrating  VideoStatus = "narrating"
	VideoStatusMuxing     VideoStatus = "muxing"
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// VideoStatuses lists every status in pipeline order.
var VideoStatuses = []VideoStatus{
	VideoStatusQueued,
	VideoStatusScripting,
	VideoStatusSourcing,
	VideoStatusAssembling,
	VideoStatusNarrating,
	VideoStatusMuxing,
	VideoStatusUploading,
	VideoStatusCompleted,
	VideoStatusFailed,
}

// ParseVideoStatus validates a status filter value.
func ParseVideoStatus(s string) (VideoStatus, bool) {
	for _, st := range VideoStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type BeatStatus string

const (
	BeatStatusPending  BeatStatus = "pending"
	BeatStatusRendered BeatStatus = "rendered"
	BeatStatusFailed   BeatStatus = "failed"
)

type AssetType string

const (
	AssetTypeFinalVideo AssetType = "final_video"
	AssetTypeReport     AssetType = "report_json"
	AssetTypeNarration  AssetType = "narration"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

type Video struct {
	ID                uuid.UUID   `json:"id"`
	Topic             string      `json:"topic"`
	Config            VideoConfig `json:"config"`
	Status            VideoStatus `json:"status"`
	Progress          int         `json:"progress"`
	CurrentStep       string      `json:"current_step"`
	TotalDurationSec  *float64    `json:"total_duration_sec,omitempty"`
	NarrationDegraded bool        `json:"narration_degraded"`
	DegradedReason    *string     `json:"degraded_reason,omitempty"`
	FinalVideoAssetID *uuid.UUID  `json:"final_video_asset_id,omitempty"`
	ReportAssetID     *uuid.UUID  `json:"report_asset_id,omitempty"`
	ErrorCode         *string     `json:"error_code,omitempty"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// BeatRecord is the persisted view of a beat once its run has assembled.
type BeatRecord struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	BeatIndex    int        `json:"beat_index"`
	StartSec     float64    `json:"start_sec"`
	EndSec       float64    `json:"end_sec"`
	DurationSec  float64    `json:"duration_sec"`
	Script       string     `json:"script"`
	ImageURL     *string    `json:"image_url,omitempty"`
	ImageCredit  *string    `json:"image_credit,omitempty"`
	Effect       JSONB      `json:"effect,omitempty"`
	Status       BeatStatus `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Asset struct {
	ID            uuid.UUID `json:"id"`
	VideoID       uuid.UUID `json:"video_id"`
	Type          AssetType `json:"type"`
	StorageBucket string    `json:"storage_bucket"`
	StoragePath   string    `json:"storage_path"`
	ContentType   *string   `json:"content_type,omitempty"`
	ByteSize      *int64    `json:"byte_size,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Presenter is a talking-avatar identity offered by the avatar service.
type Presenter struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Gender       string `json:"gender,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Voice is a TTS voice offered by the avatar service.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Gender   string `json:"gender,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// DTOs for API responses
type VideoResponse struct {
	Video
	Beats         []BeatRecord    `json:"beats,omitempty"`
	Assets        []AssetResponse `json:"assets,omitempty"`
	FinalVideoURL *string         `json:"final_video_url,omitempty"`
}

// AssetResponse is a stored artifact with its public URL.
type AssetResponse struct {
	Asset
	URL string `json:"url"`
}

// VideoSummary is the list-endpoint DTO, without beats.
type VideoSummary struct {
	ID                uuid.UUID   `json:"id"`
	Topic             string      `json:"topic"`
	Status            VideoStatus `json:"status"`
	Progress          int         `json:"progress"`
	ImageCount        int         `json:"image_count"`
	VoiceEngine       VoiceEngine `json:"voice_engine"`
	TotalDurationSec  *float64    `json:"total_duration_sec,omitempty"`
	NarrationDegraded bool        `json:"narration_degraded"`
	FinalVideoURL     *string     `json:"final_video_url,omitempty"`
	ErrorCode         *string     `json:"error_code,omitempty"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type ListVideosResponse struct {
	Videos []VideoSummary `json:"videos"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CreateVideoRequest carries the topic plus optional overrides of the render defaults.
type CreateVideoRequest struct {
	Topic             string       `json:"topic"`
	Keywords          []string     `json:"keywords,omitempty"`
	ImageCount        *int         `json:"image_count,omitempty"`
	ClipDuration      *float64     `json:"clip_duration,omitempty"`
	CrossfadeDuration *float64     `json:"crossfade_duration,omitempty"`
	OutputWidth       *int         `json:"output_width,omitempty"`
	OutputHeight      *int         `json:"output_height,omitempty"`
	FPS               *int         `json:"fps,omitempty"`
	VoiceEngine       *VoiceEngine `json:"voice_engine,omitempty"`
	PresenterID       *string      `json:"presenter_id,omitempty"`
	Voice             *string      `json:"voice,omitempty"`
}

// Apply overlays the request onto base.
func (r CreateVideoRequest) Apply(base VideoConfig) VideoConfig {
	cfg := base
	cfg.Topic = r.Topic
	if len(r.Keywords) > 0 {
		cfg.Keywords = append([]string(nil), r.Keywords...)
	}
	if r.ImageCount != nil {
		cfg.ImageCount = *r.ImageCount
	}
	if r.ClipDuration != nil {
		cfg.ClipDuration = *r.ClipDuration
	}
	if r.CrossfadeDuration != nil {
		cfg.CrossfadeDuration = *r.CrossfadeDuration
	}
	if r.OutputWidth != nil {
		cfg.OutputWidth = *r.OutputWidth
	}
	if r.OutputHeight != nil {
		cfg.OutputHeight = *r.OutputHeight
	}
	if r.FPS != nil {
		cfg.FPS = *r.FPS
	}
	if r.VoiceEngine != nil {
		cfg.VoiceEngine = *r.VoiceEngine
	}
	if r.PresenterID != nil {
		cfg.PresenterID = *r.PresenterID
	}
	if r.Voice != nil {
		cfg.Voice = *r.Voice
	}
	return cfg
}

type CreateVideoResponse struct {
	VideoID uuid.UUID   `json:"video_id"`
	Status  VideoStatus `json:"status"`
}

// BeatPreviewResponse is the side-effect-free beat sheet for a config.
type BeatPreviewResponse struct {
	Beats               []Beat  `json:"beats"`
	PictureLockDuration float64 `json:"picture_lock_duration"`
	NaiveDuration       float64 `json:"naive_duration"`
	Resolution          string  `json:"resolution"`
	FPS                 int     `json:"fps"`
}
