package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/avatar"
	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/workspace"
)

// narrate produces narration.wav for the selected engine. When the engine is
// unavailable and fallback is on, the track is silence of picture-lock
// length and the result is flagged degraded. Cancellation is never degraded.
func (p *Pipeline) narrate(ctx context.Context, ws *workspace.Workspace, b *ffmpeg.Builder, cfg models.VideoConfig, beats []models.Beat, duration float64) (models.Narration, error) {
	log := p.log.WithRunID(ws.RunID)

	n, err := p.renderNarration(ctx, ws, b, cfg, beats)
	if err == nil {
		return n, nil
	}

	if ctx.Err() != nil || apperr.IsCode(err, apperr.CodeCancelled) {
		return models.Narration{}, p.stageErr(ctx, err, "pipeline.narration")
	}

	if !p.opts.NarrationFallback {
		return models.Narration{}, err
	}

	log.Warn("narration degraded to silence",
		"engine", cfg.VoiceEngine,
		"code", apperr.CodeOf(err),
		"reason", apperr.Message(err),
	)

	path := ws.NarrationPath()
	if err := p.deps.Runner.Run(ctx, b.SilentTrack(duration, path)); err != nil {
		return models.Narration{}, fmt.Errorf("silent narration failed: %w", err)
	}

	return models.Narration{
		Engine:   cfg.VoiceEngine,
		Path:     path,
		Degraded: true,
		Code:     string(apperr.CodeOf(err)),
		Reason:   apperr.Message(err),
	}, nil
}

func (p *Pipeline) renderNarration(ctx context.Context, ws *workspace.Workspace, b *ffmpeg.Builder, cfg models.VideoConfig, beats []models.Beat) (models.Narration, error) {
	switch cfg.VoiceEngine {
	case models.VoiceEngineOpenAI:
		return p.narrateLines(ctx, ws, b, cfg, beats)
	case models.VoiceEngineGemini:
		return p.narrateJoined(ctx, ws, cfg, beats)
	case models.VoiceEngineDID:
		return p.narrateAvatar(ctx, ws, b, cfg, beats)
	default:
		return models.Narration{}, apperr.Newf(apperr.CodeConfiguration, "pipeline.narration", "unknown voice engine %q", cfg.VoiceEngine)
	}
}

func (p *Pipeline) speaker(engine models.VoiceEngine) (services.TTSService, error) {
	tts, ok := p.deps.Voices[engine]
	if !ok || tts == nil {
		return nil, apperr.Newf(apperr.CodeConfiguration, "pipeline.narration", "voice engine %s is not configured", engine)
	}
	return tts, nil
}

// narrateLines speaks each beat separately and places every line at its
// beat's start.
func (p *Pipeline) narrateLines(ctx context.Context, ws *workspace.Workspace, b *ffmpeg.Builder, cfg models.VideoConfig, beats []models.Beat) (models.Narration, error) {
	tts, err := p.speaker(cfg.VoiceEngine)
	if err != nil {
		return models.Narration{}, err
	}

	tracks := make([]string, len(beats))
	delays := make([]float64, len(beats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(speechConcurrency)
	for i, beat := range beats {
		g.Go(func() error {
			resp, err := tts.GenerateSpeech(gctx, beat.Script, cfg.Voice)
			if err != nil {
				return fmt.Errorf("beat %d narration: %w", beat.Index, err)
			}
			path := ws.VoiceLinePath(beat.Index)
			if err := ws.WriteFile(path, resp.AudioData); err != nil {
				return err
			}
			tracks[i] = path
			delays[i] = beat.Start
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Narration{}, err
	}

	out := ws.NarrationPath()
	cmd, err := b.NarrationMix(tracks, delays, out)
	if err != nil {
		return models.Narration{}, err
	}
	if err := p.deps.Runner.Run(ctx, cmd); err != nil {
		return models.Narration{}, err
	}
	return models.Narration{Engine: cfg.VoiceEngine, Path: out}, nil
}

// narrateJoined speaks the whole script in one call.
func (p *Pipeline) narrateJoined(ctx context.Context, ws *workspace.Workspace, cfg models.VideoConfig, beats []models.Beat) (models.Narration, error) {
	tts, err := p.speaker(cfg.VoiceEngine)
	if err != nil {
		return models.Narration{}, err
	}

	resp, err := tts.GenerateSpeech(ctx, joinScripts(beats), cfg.Voice)
	if err != nil {
		return models.Narration{}, err
	}

	out := ws.NarrationPath()
	if err := ws.WriteFile(out, resp.AudioData); err != nil {
		return models.Narration{}, err
	}
	return models.Narration{Engine: cfg.VoiceEngine, Path: out}, nil
}

// narrateAvatar renders a talking-head video and uses its audio stream.
func (p *Pipeline) narrateAvatar(ctx context.Context, ws *workspace.Workspace, b *ffmpeg.Builder, cfg models.VideoConfig, beats []models.Beat) (models.Narration, error) {
	if p.deps.Avatar == nil {
		return models.Narration{}, apperr.New(apperr.CodeConfiguration, "pipeline.narration", "avatar service is not configured")
	}

	res, err := p.deps.Poller.Render(ctx, p.deps.Avatar, avatar.Request{
		Script:      joinScripts(beats),
		PresenterID: cfg.PresenterID,
		VoiceID:     cfg.Voice,
	})
	if err != nil {
		return models.Narration{}, err
	}

	video, err := p.deps.Avatar.Download(ctx, res.ResultURL)
	if err != nil {
		return models.Narration{}, err
	}
	avatarPath := ws.AvatarPath()
	if err := ws.WriteFile(avatarPath, video); err != nil {
		return models.Narration{}, err
	}

	out := ws.NarrationPath()
	if err := p.deps.Runner.Run(ctx, b.ExtractAudio(avatarPath, out)); err != nil {
		return models.Narration{}, err
	}
	return models.Narration{Engine: cfg.VoiceEngine, Path: out}, nil
}

func joinScripts(beats []models.Beat) string {
	parts := make([]string, 0, len(beats))
	for _, b := range beats {
		if s := strings.TrimSpace(b.Script); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
