// Package timeline builds the beat sheet: the timed, overlapping segments
// that every later stage renders against.
package timeline

import (
	"math"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
)

// Configuration limits enforced by Validate.
const (
	MinImages       = 2
	MaxImages       = 20
	MinClipDuration = 2.0
	MaxClipDuration = 10.0
	MinFPS          = 1
	MaxFPS          = 120
)

// BuildBeatSheet lays out cfg.ImageCount beats. Beat i (0-based) starts at
// i*(clip-crossfade) and lasts one clip, so neighbours overlap by exactly
// the crossfade.
func BuildBeatSheet(cfg models.VideoConfig) []models.Beat {
	if cfg.ImageCount <= 0 {
		return nil
	}
	step := cfg.ClipDuration - cfg.CrossfadeDuration
	beats := make([]models.Beat, cfg.ImageCount)
	for i := range beats {
		start := float64(i) * step
		beats[i] = models.Beat{
			Index:    i + 1,
			Duration: cfg.ClipDuration,
			Start:    start,
			End:      start + cfg.ClipDuration,
		}
	}
	return beats
}

// PictureLockDuration is the end of the last beat. Zero for an empty sheet.
func PictureLockDuration(beats []models.Beat) float64 {
	if len(beats) == 0 {
		return 0
	}
	return beats[len(beats)-1].End
}

// NaiveDuration computes n*clip - (n-1)*crossfade straight from the config.
// It must agree with PictureLockDuration(BuildBeatSheet(cfg)).
func NaiveDuration(cfg models.VideoConfig) float64 {
	n := float64(cfg.ImageCount)
	if n <= 0 {
		return 0
	}
	return n*cfg.ClipDuration - (n-1)*cfg.CrossfadeDuration
}

// Validate rejects a config before any work starts. All problems are
// reported together in one CONFIGURATION_ERROR.
func Validate(cfg models.VideoConfig) error {
	var problems []string

	if strings.TrimSpace(cfg.Topic) == "" {
		problems = append(problems, "topic is required")
	}
	if cfg.ImageCount < MinImages || cfg.ImageCount > MaxImages {
		problems = append(problems, "image_count must be between 2 and 20")
	}
	if math.IsNaN(cfg.ClipDuration) || cfg.ClipDuration < MinClipDuration || cfg.ClipDuration > MaxClipDuration {
		problems = append(problems, "clip_duration must be between 2 and 10 seconds")
	}
	if math.IsNaN(cfg.CrossfadeDuration) || cfg.CrossfadeDuration <= 0 || cfg.CrossfadeDuration >= cfg.ClipDuration {
		problems = append(problems, "crossfade_duration must be positive and shorter than clip_duration")
	}
	if cfg.OutputWidth <= 0 || cfg.OutputHeight <= 0 || cfg.OutputWidth%2 != 0 || cfg.OutputHeight%2 != 0 {
		problems = append(problems, "output width and height must be positive even numbers")
	}
	if cfg.FPS < MinFPS || cfg.FPS > MaxFPS {
		problems = append(problems, "fps must be between 1 and 120")
	}
	if !cfg.VoiceEngine.Valid() {
		problems = append(problems, "voice_engine must be one of openai-tts, gemini-tts, d-id")
	}

	if len(problems) > 0 {
		return apperr.New(apperr.CodeConfiguration, "timeline.validate", strings.Join(problems, "; "))
	}
	return nil
}

// Attach returns a copy of beats enriched with images and scripts. Either
// slice may be shorter than beats; missing entries leave the beat untouched.
func Attach(beats []models.Beat, images []models.ImageRef, scripts []string) []models.Beat {
	out := make([]models.Beat, len(beats))
	copy(out, beats)
	for i := range out {
		if i < len(images) {
			img := images[i]
			out[i].Image = &img
		}
		if i < len(scripts) {
			out[i].Script = scripts[i]
		}
	}
	return out
}
