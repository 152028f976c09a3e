// Package pipeline turns a topic into a narrated master video: scripts,
// images, beat sheet, picture lock, narration, final mux and report.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/assembly"
	"github.com/bobarin/storyreel/internal/avatar"
	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/motion"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/bobarin/storyreel/internal/workspace"
)

// Overall progress checkpoints. Assembly progress is scaled into
// [ProgressAssembling, ProgressAssembled].
const (
	ProgressScripting  = 5
	ProgressSourcing   = 15
	ProgressAssembling = 15
	ProgressAssembled  = 75
	ProgressNarrating  = 80
	ProgressMuxing     = 90
	ProgressUploading  = 95
	ProgressCompleted  = 100

	downloadConcurrency = 4
	speechConcurrency   = 3
)

// ProgressFunc observes the run's overall status.
type ProgressFunc func(status models.VideoStatus, progress int, step string)

// AvatarService renders and returns talking-head videos.
type AvatarService interface {
	avatar.Service
	Download(ctx context.Context, resultURL string) ([]byte, error)
}

// Deps are the collaborators of a run. Voices and Avatar may be partially
// configured; a missing engine degrades narration when fallback is enabled.
type Deps struct {
	Scripts services.ScriptWriter
	Images  services.ImageSource
	Voices  map[models.VoiceEngine]services.TTSService
	Avatar  AvatarService
	Poller  *avatar.Poller
	Runner  ffmpeg.Runner
	Prober  assembly.DurationProber
}

type Options struct {
	FFmpegPath        string
	Profile           ffmpeg.EncodeProfile
	ClipConcurrency   int
	NarrationFallback bool
	// MotionSeed fixes the effect sequence. Zero seeds from the clock.
	MotionSeed int64
	Logger     *logger.Logger
}

type Pipeline struct {
	deps Deps
	opts Options
	log  *logger.Logger
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = ffmpeg.DefaultProgram
	}
	if deps.Poller == nil {
		deps.Poller = avatar.NewPoller(avatar.DefaultInterval, avatar.DefaultMaxAttempts, opts.Logger)
	}
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  logger.OrDiscard(opts.Logger).WithComponent("pipeline"),
	}
}

// Report is the run summary written to report.json.
type Report struct {
	RunID       string                `json:"run_id"`
	Topic       string                `json:"topic"`
	Config      models.VideoConfig    `json:"config"`
	Assembly    models.AssemblyReport `json:"assembly"`
	Narration   models.Narration      `json:"narration"`
	Scripts     []string              `json:"scripts"`
	MasterPath  string                `json:"master_path"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Result is a finished run.
type Result struct {
	Beats      []models.Beat
	Job        *models.AssemblyJob
	Report     Report
	Narration  models.Narration
	MasterPath string
	ReportPath string
	ReportJSON []byte
}

// Run executes every stage inside ws. The caller owns ws and its cleanup.
func (p *Pipeline) Run(ctx context.Context, ws *workspace.Workspace, cfg models.VideoConfig, onProgress ProgressFunc) (*Result, error) {
	if onProgress == nil {
		onProgress = func(models.VideoStatus, int, string) {}
	}
	log := p.log.WithRunID(ws.RunID)

	if err := timeline.Validate(cfg); err != nil {
		return nil, err
	}
	if p.deps.Scripts == nil || p.deps.Images == nil || p.deps.Runner == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "pipeline.run", "script writer, image source and encoder runner are required")
	}

	onProgress(models.VideoStatusScripting, ProgressScripting, "writing narration")
	script, err := p.deps.Scripts.GenerateScripts(ctx, cfg.Topic, cfg.ImageCount)
	if err != nil {
		return nil, p.stageErr(ctx, err, "pipeline.scripts")
	}
	log.Info("scripts generated", "count", len(script.Scripts), "narration_target", script.TotalDuration)

	onProgress(models.VideoStatusSourcing, ProgressSourcing, "sourcing images")
	refs, images, err := p.sourceImages(ctx, cfg)
	if err != nil {
		return nil, p.stageErr(ctx, err, "pipeline.images")
	}

	beats := timeline.Attach(timeline.BuildBeatSheet(cfg), refs, script.Scripts)

	onProgress(models.VideoStatusAssembling, ProgressAssembling, "assembling picture lock")
	builder := ffmpeg.NewBuilder(p.opts.FFmpegPath, cfg, p.opts.Profile)
	asm := assembly.New(cfg, builder, p.deps.Runner, p.effects(), ws, assembly.Options{
		Concurrency: p.opts.ClipConcurrency,
		Prober:      p.deps.Prober,
		Logger:      p.opts.Logger,
		OnProgress: func(job models.AssemblyJob) {
			if job.Status == models.AssemblyStatusFailed {
				return
			}
			scaled := ProgressAssembling + job.Progress*(ProgressAssembled-ProgressAssembling)/100
			onProgress(models.VideoStatusAssembling, scaled, job.CurrentStep)
		},
	})
	job, err := asm.Assemble(ctx, ws.RunID, beats, images)
	if err != nil {
		return nil, err
	}

	onProgress(models.VideoStatusNarrating, ProgressNarrating, "generating narration")
	narration, err := p.narrate(ctx, ws, builder, cfg, job.Beats, job.TotalDuration)
	if err != nil {
		return nil, err
	}

	onProgress(models.VideoStatusMuxing, ProgressMuxing, "muxing master")
	master := ws.MasterPath()
	if err := p.deps.Runner.Run(ctx, builder.FinalMux(job.OutputPath, narration.Path, master)); err != nil {
		return nil, p.stageErr(ctx, err, "pipeline.mux")
	}

	report := Report{
		RunID:       ws.RunID,
		Topic:       cfg.Topic,
		Config:      cfg,
		Assembly:    assembly.Report(job),
		Narration:   narration,
		Scripts:     script.Scripts,
		MasterPath:  master,
		GeneratedAt: time.Now().UTC(),
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := ws.WriteFile(ws.ReportPath(), reportJSON); err != nil {
		return nil, err
	}

	log.Info("run complete",
		"duration", job.TotalDuration,
		"engine", narration.Engine,
		"narration_degraded", narration.Degraded,
	)

	return &Result{
		Beats:      job.Beats,
		Job:        job,
		Report:     report,
		Narration:  narration,
		MasterPath: master,
		ReportPath: ws.ReportPath(),
		ReportJSON: reportJSON,
	}, nil
}

func (p *Pipeline) effects() assembly.EffectSource {
	if p.opts.MotionSeed != 0 {
		return motion.NewSeeded(p.opts.MotionSeed)
	}
	return motion.NewGenerator(nil)
}

// sourceImages searches once and downloads every hit in parallel, keeping
// results in search order.
func (p *Pipeline) sourceImages(ctx context.Context, cfg models.VideoConfig) ([]models.ImageRef, [][]byte, error) {
	query := strings.TrimSpace(strings.Join(append([]string{cfg.Topic}, cfg.Keywords...), " "))

	refs, err := p.deps.Images.Search(ctx, query, cfg.ImageCount)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) < cfg.ImageCount {
		return nil, nil, apperr.Newf(apperr.CodeUpstream, "pipeline.images", "found %d images, need %d", len(refs), cfg.ImageCount)
	}
	refs = refs[:cfg.ImageCount]

	images := make([][]byte, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			data, err := p.deps.Images.Download(gctx, ref)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i+1, ref.ID, err)
			}
			images[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return refs, images, nil
}

// stageErr turns failures caused by a done context into Cancelled.
func (p *Pipeline) stageErr(ctx context.Context, err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code == apperr.CodeCancelled {
		return err
	}
	if ctxErr := apperr.FromContext(ctx, op); ctxErr != nil {
		return ctxErr
	}
	if apperr.IsCode(err, apperr.CodeCancelled) {
		return apperr.Cancelled(op, err)
	}
	return err
}
