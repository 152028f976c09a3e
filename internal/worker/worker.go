// Package worker consumes render jobs, runs the pipeline and publishes the
// resulting artifacts.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/pipeline"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/workspace"
)

const dequeueTimeout = 5 * time.Second

// Store is the subset of *db.DB the worker writes to.
type Store interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	UpdateVideoProgress(ctx context.Context, id uuid.UUID, status models.VideoStatus, progress int, step string) error
	SetVideoNarration(ctx context.Context, id uuid.UUID, totalDuration float64, degraded bool, reason *string) error
	UpdateVideoError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error
	CompleteVideo(ctx context.Context, videoID, finalAssetID uuid.UUID, reportAssetID *uuid.UUID) error
	ReplaceBeats(ctx context.Context, videoID uuid.UUID, beats []models.BeatRecord) error
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateJobError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error
}

// JobSource yields queued jobs. *queue.Queue satisfies it.
type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// Uploader publishes local files. *storage.Storage satisfies it.
type Uploader interface {
	UploadFile(ctx context.Context, storagePath, localPath, contentType string) (int64, error)
}

// Renderer runs one video. *pipeline.Pipeline satisfies it.
type Renderer interface {
	Run(ctx context.Context, ws *workspace.Workspace, cfg models.VideoConfig, onProgress pipeline.ProgressFunc) (*pipeline.Result, error)
}

type Options struct {
	WorkDir       string
	KeepWorkspace bool
	// UploadSlots limits concurrent uploads across all workers.
	UploadSlots int
	Bucket      string
	Logger      *logger.Logger
}

type Worker struct {
	store     Store
	jobs      JobSource
	uploader  Uploader
	renderer  Renderer
	opts      Options
	uploadSem chan struct{}
	log       *logger.Logger
}

func New(store Store, jobs JobSource, uploader Uploader, renderer Renderer, opts Options) *Worker {
	if opts.UploadSlots <= 0 {
		opts.UploadSlots = 2
	}
	return &Worker{
		store:     store,
		jobs:      jobs,
		uploader:  uploader,
		renderer:  renderer,
		opts:      opts,
		uploadSem: make(chan struct{}, opts.UploadSlots),
		log:       logger.OrDiscard(opts.Logger).WithComponent("worker"),
	}
}

// uploadWithLimit waits for an upload slot before calling fn.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	select {
	case w.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Cancelled("worker.upload", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	w.log.Debug("uploading", "artifact", label)
	return fn()
}

// Start runs concurrency consumers until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.log.Info("worker started", "concurrency", concurrency, "queue", queue.QueueRenderVideo)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueRenderVideo, w.handleRenderVideo)
	}

	<-ctx.Done()
	w.log.Info("worker shutting down")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.jobs.Dequeue(ctx, queueName, dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Error("dequeue failed", "queue", queueName, "error", err)
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				continue
			}

			w.process(ctx, job, handler)
		}
	}
}

// process runs one job and records its terminal state on the job and video rows.
func (w *Worker) process(ctx context.Context, job *queue.Job, handler func(context.Context, *queue.Job) error) {
	log := w.log.WithJobID(job.ID.String()).With("video_id", job.VideoID.String())
	log.Info("processing job", "type", job.Type)

	// The queue is at-least-once. A redelivered job whose row already
	// succeeded must not render and upload a second master.
	if row, err := w.store.GetJob(ctx, job.ID); err != nil {
		log.Warn("job record lookup failed", "error", err)
	} else if row.Status == models.JobStatusSucceeded {
		log.Info("job already succeeded, skipping")
		return
	}

	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		log.Error("failed to mark job running", "error", err)
	}

	started := time.Now()
	err := handler(logger.ContextWithJobID(ctx, job.ID.String()), job)
	if err == nil {
		log.Info("job succeeded", "elapsed", time.Since(started).Round(time.Millisecond))
		if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded); err != nil {
			log.Error("failed to mark job succeeded", "error", err)
		}
		return
	}

	w.failJob(context.WithoutCancel(ctx), job, err)
}

// failJob persists the classified error on both the job and its video.
func (w *Worker) failJob(ctx context.Context, job *queue.Job, err error) {
	code := string(apperr.CodeOf(err))
	msg := apperr.Message(err)

	w.log.WithJobID(job.ID.String()).WithError(err).Error("job failed", "video_id", job.VideoID.String(), "code", code)

	if uerr := w.store.UpdateJobError(ctx, job.ID, code, msg); uerr != nil {
		w.log.Error("failed to record job error", "error", uerr)
	}
	if uerr := w.store.UpdateVideoError(ctx, job.VideoID, code, msg); uerr != nil {
		w.log.Error("failed to record video error", "error", uerr)
	}
}

// handleRenderVideo renders a video end to end and publishes its master and report.
func (w *Worker) handleRenderVideo(ctx context.Context, job *queue.Job) error {
	video, err := w.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return err
	}

	ws, err := workspace.New(w.opts.WorkDir, job.ID.String())
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "worker.workspace", "create workspace")
	}
	log := w.log.WithJobID(job.ID.String()).WithRunID(ws.RunID)
	defer func() {
		if w.opts.KeepWorkspace {
			log.Info("workspace kept", "path", ws.Root)
			return
		}
		if err := ws.Cleanup(); err != nil {
			log.Warn("workspace cleanup failed", "error", err)
		}
	}()

	progress := func(status models.VideoStatus, pct int, step string) {
		if err := w.store.UpdateVideoProgress(ctx, video.ID, status, pct, step); err != nil {
			log.Warn("failed to persist progress", "status", status, "error", err)
		}
	}

	res, err := w.renderer.Run(logger.ContextWithRunID(ctx, ws.RunID), ws, video.Config, progress)
	if err != nil {
		return err
	}

	var reason *string
	if res.Narration.Degraded {
		reason = strPtr(res.Narration.Reason)
		log.Warn("video narration degraded", "code", res.Narration.Code, "reason", res.Narration.Reason)
	}
	if err := w.store.SetVideoNarration(ctx, video.ID, res.Job.TotalDuration, res.Narration.Degraded, reason); err != nil {
		return fmt.Errorf("failed to save narration outcome: %w", err)
	}

	if err := w.store.ReplaceBeats(ctx, video.ID, beatRecords(res)); err != nil {
		return fmt.Errorf("failed to save beats: %w", err)
	}

	progress(models.VideoStatusUploading, pipeline.ProgressUploading, "uploading artifacts")

	finalAsset := &models.Asset{
		ID:            uuid.New(),
		VideoID:       video.ID,
		Type:          models.AssetTypeFinalVideo,
		StorageBucket: w.opts.Bucket,
		StoragePath:   storage.VideoPath(video.ID, "master.mp4"),
		ContentType:   strPtr("video/mp4"),
	}
	reportAsset := &models.Asset{
		ID:            uuid.New(),
		VideoID:       video.ID,
		Type:          models.AssetTypeReport,
		StorageBucket: w.opts.Bucket,
		StoragePath:   storage.VideoPath(video.ID, "report.json"),
		ContentType:   strPtr("application/json"),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range []struct {
		asset *models.Asset
		local string
	}{
		{finalAsset, res.MasterPath},
		{reportAsset, res.ReportPath},
	} {
		g.Go(func() error {
			return w.uploadWithLimit(gctx, string(u.asset.Type), func() error {
				size, err := w.uploader.UploadFile(gctx, u.asset.StoragePath, u.local, *u.asset.ContentType)
				if err != nil {
					return apperr.Wrap(err, apperr.CodeUpstream, "worker.upload", string(u.asset.Type))
				}
				u.asset.ByteSize = int64Ptr(size)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, asset := range []*models.Asset{finalAsset, reportAsset} {
		if err := w.store.CreateAsset(ctx, asset); err != nil {
			return fmt.Errorf("failed to save %s asset: %w", asset.Type, err)
		}
	}

	if err := w.store.CompleteVideo(ctx, video.ID, finalAsset.ID, &reportAsset.ID); err != nil {
		return fmt.Errorf("failed to complete video: %w", err)
	}

	log.Info("video completed",
		"duration", res.Job.TotalDuration,
		"master", finalAsset.StoragePath,
	)
	return nil
}

// beatRecords flattens the assembled beats and their effects for storage.
func beatRecords(res *pipeline.Result) []models.BeatRecord {
	records := make([]models.BeatRecord, len(res.Beats))
	for i, b := range res.Beats {
		r := models.BeatRecord{
			BeatIndex:   b.Index,
			StartSec:    b.Start,
			EndSec:      b.End,
			DurationSec: b.Duration,
			Script:      b.Script,
			Status:      models.BeatStatusRendered,
		}
		if b.Image != nil {
			r.ImageURL = strPtr(b.Image.RawURL)
			if credit := b.Image.Credit(); credit != "" {
				r.ImageCredit = strPtr(credit)
			}
		}
		if res.Job != nil && i < len(res.Job.Effects) {
			e := res.Job.Effects[i]
			r.Effect = models.JSONB{
				"start_scale": e.StartScale,
				"end_scale":   e.EndScale,
				"start_x":     e.StartX,
				"start_y":     e.StartY,
				"end_x":       e.EndX,
				"end_y":       e.EndY,
			}
		}
		records[i] = r
	}
	return records
}

func strPtr(s string) *string {
	return &s
}

func int64Ptr(i int64) *int64 {
	return &i
}
