// Package ffmpeg synthesizes and executes encoder invocations. Commands are
// built as a program plus an argument list and never pass through a shell.
package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
)

// Command is one encoder invocation.
type Command struct {
	Program string
	Args    []string
}

// String renders the command for logs. It is not shell-safe.
func (c Command) String() string {
	return c.Program + " " + strings.Join(c.Args, " ")
}

// Settings are the output frame parameters shared by every render.
type Settings struct {
	Width  int
	Height int
	FPS    int
}

// EncodeProfile holds the encoder parameters of the final master.
type EncodeProfile struct {
	VideoCodec   string `yaml:"video_codec"`
	CRF          int    `yaml:"crf"`
	Preset       string `yaml:"preset"`
	PixelFormat  string `yaml:"pixel_format"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate"`
	FastStart    bool   `yaml:"faststart"`
}

// DefaultEncodeProfile is the high-quality web delivery profile.
func DefaultEncodeProfile() EncodeProfile {
	return EncodeProfile{
		VideoCodec:   "libx264",
		CRF:          16,
		Preset:       "slow",
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "192k",
		FastStart:    true,
	}
}

const (
	// DefaultProgram is the encoder looked up on PATH.
	DefaultProgram = "ffmpeg"

	audioSampleRate = 44100
	wavCodec        = "pcm_s16le"
)

// Builder derives every encoder command of a run from its config. All
// methods are pure: equal inputs give equal commands.
type Builder struct {
	Program      string
	Settings     Settings
	Profile      EncodeProfile
	ClipDuration float64
	Crossfade    float64
}

func NewBuilder(program string, cfg models.VideoConfig, profile EncodeProfile) *Builder {
	if program == "" {
		program = DefaultProgram
	}
	return &Builder{
		Program: program,
		Settings: Settings{
			Width:  cfg.OutputWidth,
			Height: cfg.OutputHeight,
			FPS:    cfg.FPS,
		},
		Profile:      profile,
		ClipDuration: cfg.ClipDuration,
		Crossfade:    cfg.CrossfadeDuration,
	}
}

// PanStep is the per-frame increment that moves from start to end over
// duration*fps frames.
func PanStep(start, end, duration float64, fps int) float64 {
	frames := duration * float64(fps)
	if frames <= 0 {
		return 0
	}
	return (end - start) / frames
}

// FrameCount is the number of frames zoompan emits for a clip.
func FrameCount(duration float64, fps int) int {
	return int(math.Round(duration * float64(fps)))
}

// MotionFilter builds the -vf chain for one clip: cover-scale and crop to
// the output size, then zoompan interpolating the effect's scale and
// offsets linearly over the clip. Offsets are fractions of the input width
// and height added to the centred position.
func (b *Builder) MotionFilter(effect models.MotionEffect, duration float64) string {
	s := b.Settings
	frames := FrameCount(duration, s.FPS)

	zStep := PanStep(effect.StartScale, effect.EndScale, duration, s.FPS)
	xStep := PanStep(effect.StartX, effect.EndX, duration, s.FPS)
	yStep := PanStep(effect.StartY, effect.EndY, duration, s.FPS)

	z := fmt.Sprintf("%s%s*on", num(effect.StartScale), signed(zStep))
	x := fmt.Sprintf("(iw-iw/zoom)/2%s*iw%s*on*iw", signed(effect.StartX), signed(xStep))
	y := fmt.Sprintf("(ih-ih/zoom)/2%s*ih%s*on*ih", signed(effect.StartY), signed(yStep))

	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		s.Width, s.Height, s.Width, s.Height, z, x, y, frames, s.Width, s.Height, s.FPS,
	)
}

// ClipRender turns one still image into a clip of exactly duration seconds.
func (b *Builder) ClipRender(inputPath, outputPath string, effect models.MotionEffect, duration float64) Command {
	return Command{
		Program: b.Program,
		Args: []string{
			"-i", inputPath,
			"-vf", b.MotionFilter(effect, duration),
			"-t", num(duration),
			"-r", strconv.Itoa(b.Settings.FPS),
			"-c:v", b.Profile.VideoCodec,
			"-pix_fmt", b.Profile.PixelFormat,
			"-y",
			outputPath,
		},
	}
}

// TransitionOffsets returns the start of each fade for n clips. The fade
// that brings in clip k (0-based, k >= 1) starts at k*(clip-crossfade),
// which is beat k's start on the timeline.
func (b *Builder) TransitionOffsets(n int) []float64 {
	if n < 2 {
		return nil
	}
	step := b.ClipDuration - b.Crossfade
	offsets := make([]float64, n-1)
	for k := 1; k < n; k++ {
		offsets[k-1] = float64(k) * step
	}
	return offsets
}

// CrossfadeGraph is the left-to-right xfade fold over n inputs. The last
// stage is labelled [out].
func (b *Builder) CrossfadeGraph(n int) string {
	var sb strings.Builder
	prev := "[0:v]"
	for k, offset := range b.TransitionOffsets(n) {
		input := k + 1
		label := fmt.Sprintf("[v%d]", input)
		if input == n-1 {
			label = "[out]"
		}
		if k > 0 {
			sb.WriteString(";")
		}
		fmt.Fprintf(&sb, "%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s",
			prev, input, num(b.Crossfade), num(offset), label)
		prev = label
	}
	return sb.String()
}

// CrossfadeChain joins clips in the given order into one picture-locked stream.
func (b *Builder) CrossfadeChain(clipPaths []string, outputPath string) (Command, error) {
	if len(clipPaths) < 2 {
		return Command{}, apperr.Newf(apperr.CodeInsufficientInput, "ffmpeg.crossfade",
			"crossfade needs at least 2 clips, got %d", len(clipPaths))
	}

	args := make([]string, 0, len(clipPaths)*2+12)
	for _, p := range clipPaths {
		args = append(args, "-i", p)
	}
	args = append(args,
		"-filter_complex", b.CrossfadeGraph(len(clipPaths)),
		"-map", "[out]",
		"-r", strconv.Itoa(b.Settings.FPS),
		"-c:v", b.Profile.VideoCodec,
		"-pix_fmt", b.Profile.PixelFormat,
		"-y",
		outputPath,
	)
	return Command{Program: b.Program, Args: args}, nil
}

// FinalMux re-encodes the picture lock with the delivery profile and muxes
// in the narration track. Neither stream is truncated to the other.
func (b *Builder) FinalMux(videoPath, audioPath, outputPath string) Command {
	p := b.Profile
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", p.VideoCodec,
		"-crf", strconv.Itoa(p.CRF),
		"-preset", p.Preset,
		"-pix_fmt", p.PixelFormat,
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
	}
	if p.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-y", outputPath)
	return Command{Program: b.Program, Args: args}
}

// NarrationMix places each voice line at its delay (seconds) and mixes
// them into one WAV track.
func (b *Builder) NarrationMix(tracks []string, delays []float64, outputPath string) (Command, error) {
	if len(tracks) == 0 {
		return Command{}, apperr.New(apperr.CodeInsufficientInput, "ffmpeg.narration_mix", "no narration tracks")
	}
	if len(delays) != len(tracks) {
		return Command{}, apperr.Newf(apperr.CodeInsufficientInput, "ffmpeg.narration_mix",
			"%d tracks but %d delays", len(tracks), len(delays))
	}

	args := make([]string, 0, len(tracks)*2+8)
	for _, t := range tracks {
		args = append(args, "-i", t)
	}

	var graph strings.Builder
	for i, d := range delays {
		ms := int64(math.Round(d * 1000))
		if ms < 0 {
			ms = 0
		}
		fmt.Fprintf(&graph, "[%d:a]adelay=%d|%d[a%d];", i, ms, ms, i)
	}
	for i := range tracks {
		fmt.Fprintf(&graph, "[a%d]", i)
	}
	fmt.Fprintf(&graph, "amix=inputs=%d:duration=longest[out]", len(tracks))

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[out]",
		"-ar", strconv.Itoa(audioSampleRate),
		"-c:a", wavCodec,
		"-y",
		outputPath,
	)
	return Command{Program: b.Program, Args: args}, nil
}

// SilentTrack generates duration seconds of stereo silence.
func (b *Builder) SilentTrack(duration float64, outputPath string) Command {
	return Command{
		Program: b.Program,
		Args: []string{
			"-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", audioSampleRate),
			"-t", num(duration),
			"-c:a", wavCodec,
			"-y",
			outputPath,
		},
	}
}

// ExtractAudio pulls the audio stream out of a rendered video as WAV.
func (b *Builder) ExtractAudio(videoPath, outputPath string) Command {
	return Command{
		Program: b.Program,
		Args: []string{
			"-i", videoPath,
			"-vn",
			"-ac", "2",
			"-ar", strconv.Itoa(audioSampleRate),
			"-c:a", wavCodec,
			"-y",
			outputPath,
		},
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// signed renders v with an explicit sign so it can be appended to an expression.
func signed(v float64) string {
	if v == 0 {
		return "+0"
	}
	if v < 0 {
		return "-" + num(-v)
	}
	return "+" + num(v)
}
