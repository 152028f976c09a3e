package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/timeline"
)

const signedURLTTL = 3600

// Store is the subset of *db.DB the API reads and writes.
type Store interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	CreateJob(ctx context.Context, job *models.Job) error
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListVideos(ctx context.Context, status string, limit, offset int) ([]models.Video, error)
	CountVideos(ctx context.Context, status string) (int, error)
	GetVideoBeats(ctx context.Context, videoID uuid.UUID) ([]models.BeatRecord, error)
	GetVideoJobs(ctx context.Context, videoID uuid.UUID) ([]models.Job, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	GetVideoAssets(ctx context.Context, videoID uuid.UUID) ([]models.Asset, error)
	GetVideoAssetByType(ctx context.Context, videoID uuid.UUID, typ models.AssetType) (*models.Asset, error)
}

// Enqueuer schedules render jobs and reports the backlog. *queue.Queue satisfies it.
type Enqueuer interface {
	EnqueueRenderVideo(ctx context.Context, videoID, jobID uuid.UUID) error
	GetQueueLength(ctx context.Context, queueName string) (int64, error)
}

// ObjectStore serves published artifacts. *storage.Storage satisfies it.
type ObjectStore interface {
	GetPublicURL(objectPath string) string
	GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error)
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// AvatarCatalog lists what the avatar service can render with.
// *services.DIDService satisfies it.
type AvatarCatalog interface {
	ListPresenters(ctx context.Context) ([]models.Presenter, error)
	ListVoices(ctx context.Context) ([]models.Voice, error)
}

type Handler struct {
	store      Store
	queue      Enqueuer
	storage    ObjectStore
	avatars    AvatarCatalog
	defaults   models.VideoConfig
	log        *logger.Logger
}

// NewHandler wires the API. avatars may be nil when no avatar service is configured.
func NewHandler(store Store, q Enqueuer, stor ObjectStore, avatars AvatarCatalog, defaults models.VideoConfig, log *logger.Logger) *Handler {
	return &Handler{
		store:      store,
		queue:      q,
		storage:    stor,
		avatars:    avatars,
		defaults:   defaults,
		log:        logger.OrDiscard(log).WithComponent("api"),
	}
}

// CreateVideo handles POST /v1/videos
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	cfg := req.Apply(h.defaults)
	if err := timeline.Validate(cfg); err != nil {
		h.respondErr(w, err)
		return
	}

	video := &models.Video{
		ID:          uuid.New(),
		Topic:       cfg.Topic,
		Config:      cfg,
		Status:      models.VideoStatusQueued,
		CurrentStep: "queued",
	}
	if err := h.store.CreateVideo(r.Context(), video); err != nil {
		h.log.Error("create video failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create video")
		return
	}

	job := &models.Job{
		ID:      uuid.New(),
		VideoID: video.ID,
		Type:    queue.JobTypeRenderVideo,
		Status:  models.JobStatusQueued,
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.log.Error("create job failed", "video_id", video.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueRenderVideo(r.Context(), video.ID, job.ID); err != nil {
		h.log.Error("enqueue failed", "video_id", video.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.log.Info("video queued", "video_id", video.ID, "job_id", job.ID, "images", cfg.ImageCount, "engine", cfg.VoiceEngine)
	respondJSON(w, http.StatusCreated, models.CreateVideoResponse{
		VideoID: video.ID,
		Status:  video.Status,
	})
}

// ListVideos handles GET /v1/videos
// Query params:
//   - status: filter by video status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		if _, ok := models.ParseVideoStatus(statusFilter); !ok {
			names := make([]string, len(models.VideoStatuses))
			for i, s := range models.VideoStatuses {
				names[i] = string(s)
			}
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: "+strings.Join(names, ", "))
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.store.CountVideos(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count videos")
		return
	}

	videos, err := h.store.ListVideos(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list videos")
		return
	}

	summaries := make([]models.VideoSummary, 0, len(videos))
	for _, v := range videos {
		summaries = append(summaries, models.VideoSummary{
			ID:                v.ID,
			Topic:             v.Topic,
			Status:            v.Status,
			Progress:          v.Progress,
			ImageCount:        v.Config.ImageCount,
			VoiceEngine:       v.Config.VoiceEngine,
			TotalDurationSec:  v.TotalDurationSec,
			NarrationDegraded: v.NarrationDegraded,
			FinalVideoURL:     h.assetURL(r.Context(), v.FinalVideoAssetID),
			ErrorCode:         v.ErrorCode,
			ErrorMessage:      v.ErrorMessage,
			CreatedAt:         v.CreatedAt,
			UpdatedAt:         v.UpdatedAt,
		})
	}

	respondJSON(w, http.StatusOK, models.ListVideosResponse{
		Videos: summaries,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetVideo handles GET /v1/videos/{id}
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}

	beats, err := h.store.GetVideoBeats(r.Context(), video.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get beats")
		return
	}

	assets, err := h.store.GetVideoAssets(r.Context(), video.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get assets")
		return
	}
	views := make([]models.AssetResponse, 0, len(assets))
	for _, a := range assets {
		views = append(views, models.AssetResponse{Asset: a, URL: h.storage.GetPublicURL(a.StoragePath)})
	}

	respondJSON(w, http.StatusOK, models.VideoResponse{
		Video:         *video,
		Beats:         beats,
		Assets:        views,
		FinalVideoURL: h.assetURL(r.Context(), video.FinalVideoAssetID),
	})
}

// GetVideoDownload handles GET /v1/videos/{id}/download
func (h *Handler) GetVideoDownload(w http.ResponseWriter, r *http.Request) {
	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}
	if video.FinalVideoAssetID == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	asset, err := h.store.GetAsset(r.Context(), *video.FinalVideoAssetID)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	signedURL, err := h.storage.GetSignedURL(r.Context(), asset.StoragePath, signedURLTTL)
	if err != nil {
		h.log.Error("sign download URL failed", "video_id", video.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// GetVideoReport handles GET /v1/videos/{id}/report
func (h *Handler) GetVideoReport(w http.ResponseWriter, r *http.Request) {
	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}
	asset, err := h.store.GetVideoAssetByType(r.Context(), video.ID, models.AssetTypeReport)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		respondError(w, http.StatusNotFound, "Report not ready")
		return
	}
	if err != nil {
		h.respondErr(w, err)
		return
	}

	data, err := h.storage.Download(r.Context(), asset.StoragePath)
	if err != nil {
		h.log.Error("report download failed", "video_id", video.ID, "error", err)
		respondError(w, http.StatusBadGateway, "Failed to fetch report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetVideoJobs handles GET /v1/videos/{id}/debug/jobs
func (h *Handler) GetVideoJobs(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	jobs, err := h.store.GetVideoJobs(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	respondJSON(w, http.StatusOK, jobs)
}

// PreviewBeats handles POST /v1/beats/preview. It has no side effects.
func (h *Handler) PreviewBeats(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := req.Apply(h.defaults)
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "preview"
	}
	if err := timeline.Validate(cfg); err != nil {
		h.respondErr(w, err)
		return
	}

	beats := timeline.BuildBeatSheet(cfg)
	respondJSON(w, http.StatusOK, models.BeatPreviewResponse{
		Beats:               beats,
		PictureLockDuration: timeline.PictureLockDuration(beats),
		NaiveDuration:       timeline.NaiveDuration(cfg),
		Resolution:          cfg.Resolution(),
		FPS:                 cfg.FPS,
	})
}

// ListPresenters handles GET /v1/presenters
func (h *Handler) ListPresenters(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		respondError(w, http.StatusServiceUnavailable, "Avatar presenters are not configured")
		return
	}

	presenters, err := h.avatars.ListPresenters(r.Context())
	if err != nil {
		h.log.Warn("list presenters failed", "error", err)
		h.respondErr(w, err)
		return
	}
	if presenters == nil {
		presenters = []models.Presenter{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"presenters": presenters})
}

func (h *Handler) loadVideo(w http.ResponseWriter, r *http.Request) (*models.Video, bool) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return nil, false
	}

	video, err := h.store.GetVideo(r.Context(), videoID)
	if err != nil {
		h.respondErr(w, err)
		return nil, false
	}
	return video, true
}

func (h *Handler) assetURL(ctx context.Context, assetID *uuid.UUID) *string {
	if assetID == nil {
		return nil
	}
	asset, err := h.store.GetAsset(ctx, *assetID)
	if err != nil {
		return nil
	}
	url := h.storage.GetPublicURL(asset.StoragePath)
	return &url
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a classified error onto its HTTP status.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "code", code, "error", err)
	}
	respondJSON(w, status, map[string]string{
		"error": apperr.Message(err),
		"code":  string(code),
	})
}

// ListVoices handles GET /v1/voices
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		respondError(w, http.StatusServiceUnavailable, "Avatar voices are not configured")
		return
	}

	voices, err := h.avatars.ListVoices(r.Context())
	if err != nil {
		h.log.Warn("list voices failed", "error", err)
		h.respondErr(w, err)
		return
	}
	if voices == nil {
		voices = []models.Voice{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

// Health reports liveness plus the render backlog. An unreachable queue is 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.GetQueueLength(r.Context(), queue.QueueRenderVideo)
	if err != nil {
		h.log.Warn("queue depth unavailable", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"service": "storyreel",
			"error":   "queue unavailable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "storyreel",
		"queue_depth": depth,
	})
}
