// Package assembly drives one picture-lock run: validate the beats, render
// one clip per beat, then crossfade the clips into a single stream.
//
// A run is all-or-nothing. Any failed clip fails the job and no partial
// picture lock is produced.
package assembly

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/bobarin/storyreel/internal/workspace"
)

// Progress checkpoints of a run.
const (
	clipPhaseEnd      = 60
	crossfadePhaseEnd = 90
)

// EffectSource yields n motion effects in beat order. *motion.Generator satisfies it.
type EffectSource interface {
	Sequence(n int) []models.MotionEffect
}

// DurationProber measures rendered clips. *ffmpeg.Prober satisfies it.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type Options struct {
	// Concurrency bounds parallel clip renders. Values below 2 render
	// sequentially in beat order.
	Concurrency int
	// Prober, when set, records realized clip durations.
	Prober DurationProber
	// OnProgress receives a copy of the job after every state change.
	OnProgress func(models.AssemblyJob)
	Logger     *logger.Logger
	Now        func() time.Time
}

type Assembler struct {
	cfg     models.VideoConfig
	builder *ffmpeg.Builder
	runner  ffmpeg.Runner
	effects EffectSource
	ws      *workspace.Workspace
	opts    Options
	log     *logger.Logger
}

func New(cfg models.VideoConfig, builder *ffmpeg.Builder, runner ffmpeg.Runner, effects EffectSource, ws *workspace.Workspace, opts Options) *Assembler {
	return &Assembler{
		cfg:     cfg,
		builder: builder,
		runner:  runner,
		effects: effects,
		ws:      ws,
		opts:    opts,
		log:     logger.OrDiscard(opts.Logger).WithComponent("assembly"),
	}
}

// Assemble runs the job to a terminal state. The returned job is never nil;
// err is non-nil exactly when the job failed.
func (a *Assembler) Assemble(ctx context.Context, jobID string, beats []models.Beat, images [][]byte) (*models.AssemblyJob, error) {
	job := &models.AssemblyJob{
		ID:     jobID,
		Beats:  append([]models.Beat(nil), beats...),
		Config: a.cfg,
		Status: models.AssemblyStatusPending,
	}
	t := newTracker(job, a.opts.OnProgress, a.opts.Now)
	log := a.log.WithJobID(jobID)

	t.start("validating beats")

	if err := validate(job.Beats, images); err != nil {
		log.Warn("assembly rejected", "error", err)
		t.fail(err)
		return job, err
	}

	if err := a.run(ctx, t, job, images); err != nil {
		if ctx.Err() != nil && !apperr.IsCode(err, apperr.CodeCancelled) {
			err = apperr.Cancelled("assembly", ctx.Err())
		}
		log.Error("assembly failed", "error", err, "progress", job.Progress)
		t.fail(err)
		return job, err
	}

	log.Info("assembly completed",
		"beats", len(job.Beats),
		"total_duration", job.TotalDuration,
		"output", job.OutputPath,
	)
	return job, nil
}

func (a *Assembler) run(ctx context.Context, t *tracker, job *models.AssemblyJob, images [][]byte) error {
	n := len(job.Beats)

	inputs := make([]string, n)
	for i, beat := range job.Beats {
		path, err := a.ws.WriteImage(beat.Index, images[i])
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "assembly.write_image", fmt.Sprintf("beat %d", beat.Index))
		}
		inputs[i] = path
	}

	job.Effects = a.effects.Sequence(n)

	t.advance(0, fmt.Sprintf("rendering clips (0/%d)", n))

	clips, err := a.renderClips(ctx, t, job, inputs)
	if err != nil {
		return err
	}

	t.advance(clipPhaseEnd, "crossfading clips")

	clipPaths := make([]string, n)
	for i, c := range clips {
		clipPaths[i] = c.OutputPath
	}
	output := a.ws.PictureLockPath()
	cmd, err := a.builder.CrossfadeChain(clipPaths, output)
	if err != nil {
		return err
	}
	if err := apperr.FromContext(ctx, "assembly.crossfade"); err != nil {
		return err
	}
	if err := a.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("crossfade failed: %w", err)
	}

	t.advance(crossfadePhaseEnd, "crossfade complete")
	t.complete(output, timeline.PictureLockDuration(job.Beats))
	return nil
}

// renderClips renders every beat. Results are stored by beat position so the
// crossfade order never depends on completion order.
func (a *Assembler) renderClips(ctx context.Context, t *tracker, job *models.AssemblyJob, inputs []string) ([]models.ClipProcessingResult, error) {
	n := len(job.Beats)
	results := make([]models.ClipProcessingResult, n)
	attempted := make([]bool, n)

	var (
		mu   sync.Mutex
		done int
	)
	record := func(i int, res models.ClipProcessingResult) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		attempted[i] = true
		if res.Success {
			done++
			t.advance(done*clipPhaseEnd/n, fmt.Sprintf("rendering clips (%d/%d)", done, n))
		}
	}

	var err error
	if a.opts.Concurrency < 2 {
		for i := range job.Beats {
			res, rerr := a.renderClip(ctx, job, inputs, i)
			record(i, res)
			if rerr != nil {
				err = rerr
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.opts.Concurrency)
		for i := range job.Beats {
			g.Go(func() error {
				res, rerr := a.renderClip(gctx, job, inputs, i)
				record(i, res)
				return rerr
			})
		}
		err = g.Wait()
	}

	var clips []models.ClipProcessingResult
	for i, ok := range attempted {
		if ok {
			clips = append(clips, results[i])
		}
	}
	t.setClips(clips)

	if err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Assembler) renderClip(ctx context.Context, job *models.AssemblyJob, inputs []string, i int) (models.ClipProcessingResult, error) {
	beat := job.Beats[i]
	res := models.ClipProcessingResult{
		Index:      beat.Index,
		InputPath:  inputs[i],
		OutputPath: a.ws.ClipPath(beat.Index),
	}

	if err := apperr.FromContext(ctx, "assembly.clip"); err != nil {
		res.Error = err.Error()
		return res, err
	}

	cmd := a.builder.ClipRender(res.InputPath, res.OutputPath, job.Effects[i], beat.Duration)
	if err := a.runner.Run(ctx, cmd); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("clip %d render failed: %w", beat.Index, err)
	}

	res.Success = true
	res.Duration = beat.Duration
	if a.opts.Prober != nil {
		d, err := a.opts.Prober.Duration(ctx, res.OutputPath)
		if err != nil {
			a.log.Warn("could not measure clip duration", "beat", beat.Index, "error", err)
		} else {
			res.Duration = d
		}
	}
	return res, nil
}

// validate rejects the input before any file is written or command run.
func validate(beats []models.Beat, images [][]byte) error {
	if len(beats) < 2 {
		return apperr.Newf(apperr.CodeInsufficientInput, "assembly.validate",
			"at least 2 beats are required, got %d", len(beats))
	}
	for i, beat := range beats {
		if beat.Image == nil || i >= len(images) || len(images[i]) == 0 {
			return apperr.Newf(apperr.CodeMissingAsset, "assembly.validate",
				"beat %d has no image", beat.Index).WithField("beat", beat.Index)
		}
		if math.IsNaN(beat.Duration) || beat.Duration <= 0 {
			return apperr.Newf(apperr.CodeInvalidDuration, "assembly.validate",
				"beat %d has non-positive duration %v", beat.Index, beat.Duration).WithField("beat", beat.Index)
		}
	}
	return nil
}
