package ffmpeg

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
)

func testBuilder() *Builder {
	cfg := models.DefaultVideoConfig()
	cfg.ClipDuration = 4
	cfg.CrossfadeDuration = 0.5
	return NewBuilder("", cfg, DefaultEncodeProfile())
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestPanStep(t *testing.T) {
	tests := []struct {
		name                 string
		start, end, duration float64
		fps                  int
		want                 float64
	}{
		{"zoom in", 1.0, 1.3, 5, 30, 0.3 / 150},
		{"pan left", 0.2, -0.2, 4, 25, -0.4 / 100},
		{"static", 0.1, 0.1, 5, 30, 0},
		{"zero duration", 0, 0.2, 0, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PanStep(tt.start, tt.end, tt.duration, tt.fps)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("PanStep = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPanStepReachesEnd(t *testing.T) {
	start, end := -0.2, 0.1
	step := PanStep(start, end, 5, 30)
	if got := start + step*float64(FrameCount(5, 30)); math.Abs(got-end) > 1e-9 {
		t.Errorf("after all frames pan = %v, want %v", got, end)
	}
}

func TestMotionFilterStatic(t *testing.T) {
	b := testBuilder()
	effect := models.MotionEffect{StartScale: 1.2, EndScale: 1.2, StartX: 0.1, StartY: -0.2, EndX: 0.1, EndY: -0.2}

	got := b.MotionFilter(effect, 5)
	want := "scale=1920:1080:force_original_aspect_ratio=increase,crop=1920:1080," +
		"zoompan=z='1.2+0*on':x='(iw-iw/zoom)/2+0.1*iw+0*on*iw':y='(ih-ih/zoom)/2-0.2*ih+0*on*ih'" +
		":d=150:s=1920x1080:fps=30"
	if got != want {
		t.Errorf("MotionFilter =\n%s\nwant\n%s", got, want)
	}
}

func TestMotionFilterMoving(t *testing.T) {
	b := testBuilder()
	effect := models.MotionEffect{StartScale: 1.0, EndScale: 1.0, StartX: 0, StartY: 0, EndX: -0.2, EndY: 0.1}

	got := b.MotionFilter(effect, 4)
	for _, part := range []string{
		"z='1+0*on'",
		"x='(iw-iw/zoom)/2+0*iw-" + num(0.2/120) + "*on*iw'",
		"y='(ih-ih/zoom)/2+0*ih+" + num(0.1/120) + "*on*ih'",
		":d=120:",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("filter %q missing %q", got, part)
		}
	}
}

func TestClipRender(t *testing.T) {
	b := testBuilder()
	effect := models.MotionEffect{StartScale: 1.0, EndScale: 1.3, StartX: 0.1, StartY: 0, EndX: -0.1, EndY: 0.2}

	cmd := b.ClipRender("/w/images/img_01.jpg", "/w/clips/clip_01.mp4", effect, 4)

	if cmd.Program != "ffmpeg" {
		t.Errorf("program = %q", cmd.Program)
	}
	if cmd.Args[0] != "-i" || cmd.Args[1] != "/w/images/img_01.jpg" {
		t.Errorf("input not first: %v", cmd.Args)
	}
	if got := argValue(t, cmd.Args, "-t"); got != "4" {
		t.Errorf("-t = %q", got)
	}
	if got := argValue(t, cmd.Args, "-r"); got != "30" {
		t.Errorf("-r = %q", got)
	}
	if got := argValue(t, cmd.Args, "-pix_fmt"); got != "yuv420p" {
		t.Errorf("-pix_fmt = %q", got)
	}
	if last := cmd.Args[len(cmd.Args)-1]; last != "/w/clips/clip_01.mp4" {
		t.Errorf("output = %q", last)
	}

	again := b.ClipRender("/w/images/img_01.jpg", "/w/clips/clip_01.mp4", effect, 4)
	if !reflect.DeepEqual(cmd, again) {
		t.Error("ClipRender is not deterministic")
	}
}

func TestClipRenderPathWithSpaces(t *testing.T) {
	cmd := testBuilder().ClipRender("/tmp/my images/a 'b'.jpg", "/tmp/out.mp4", models.MotionEffect{StartScale: 1, EndScale: 1}, 4)
	if cmd.Args[1] != "/tmp/my images/a 'b'.jpg" {
		t.Errorf("path altered: %q", cmd.Args[1])
	}
}

func TestCrossfadeChain(t *testing.T) {
	b := testBuilder()
	clips := []string{"c1.mp4", "c2.mp4", "c3.mp4"}

	cmd, err := b.CrossfadeChain(clips, "piclock.mp4")
	if err != nil {
		t.Fatalf("CrossfadeChain: %v", err)
	}

	wantGraph := "[0:v][1:v]xfade=transition=fade:duration=0.5:offset=3.5[v1];" +
		"[v1][2:v]xfade=transition=fade:duration=0.5:offset=7[out]"
	if got := argValue(t, cmd.Args, "-filter_complex"); got != wantGraph {
		t.Errorf("graph =\n%s\nwant\n%s", got, wantGraph)
	}
	if got := argValue(t, cmd.Args, "-map"); got != "[out]" {
		t.Errorf("-map = %q", got)
	}
	for i, c := range clips {
		if cmd.Args[2*i] != "-i" || cmd.Args[2*i+1] != c {
			t.Errorf("input %d out of order: %v", i, cmd.Args[:6])
		}
	}
}

func TestCrossfadeOffsetsMatchBeatStarts(t *testing.T) {
	cfg := models.DefaultVideoConfig()
	b := NewBuilder("", cfg, DefaultEncodeProfile())

	offsets := b.TransitionOffsets(cfg.ImageCount)
	if len(offsets) != cfg.ImageCount-1 {
		t.Fatalf("got %d offsets", len(offsets))
	}
	step := cfg.ClipDuration - cfg.CrossfadeDuration
	for k, off := range offsets {
		beatStart := float64(k+1) * step
		if math.Abs(off-beatStart) > 1e-9 {
			t.Errorf("offset %d = %v, beat start %v", k, off, beatStart)
		}
	}
}

func TestCrossfadeChainTwoClips(t *testing.T) {
	cmd, err := testBuilder().CrossfadeChain([]string{"a.mp4", "b.mp4"}, "out.mp4")
	if err != nil {
		t.Fatalf("CrossfadeChain: %v", err)
	}
	want := "[0:v][1:v]xfade=transition=fade:duration=0.5:offset=3.5[out]"
	if got := argValue(t, cmd.Args, "-filter_complex"); got != want {
		t.Errorf("graph = %q", got)
	}
}

func TestCrossfadeChainInsufficientInput(t *testing.T) {
	for _, clips := range [][]string{nil, {"only.mp4"}} {
		_, err := testBuilder().CrossfadeChain(clips, "out.mp4")
		if !errors.Is(err, apperr.ErrInsufficientInput) {
			t.Errorf("%d clips: expected insufficient input, got %v", len(clips), err)
		}
	}
}

func TestFinalMux(t *testing.T) {
	cmd := testBuilder().FinalMux("piclock.mp4", "narration.wav", "master.mp4")
	want := []string{
		"-i", "piclock.mp4",
		"-i", "narration.wav",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-crf", "16",
		"-preset", "slow",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-y", "master.mp4",
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("FinalMux args =\n%v\nwant\n%v", cmd.Args, want)
	}
}

func TestFinalMuxWithoutFastStart(t *testing.T) {
	b := testBuilder()
	b.Profile.FastStart = false
	b.Profile.CRF = 20
	cmd := b.FinalMux("v.mp4", "a.wav", "m.mp4")
	if strings.Contains(cmd.String(), "faststart") {
		t.Error("faststart should be omitted")
	}
	if got := argValue(t, cmd.Args, "-crf"); got != "20" {
		t.Errorf("-crf = %q", got)
	}
}

func TestNarrationMix(t *testing.T) {
	cmd, err := testBuilder().NarrationMix([]string{"l1.wav", "l2.wav"}, []float64{0, 3.5}, "narration.wav")
	if err != nil {
		t.Fatalf("NarrationMix: %v", err)
	}
	want := "[0:a]adelay=0|0[a0];[1:a]adelay=3500|3500[a1];[a0][a1]amix=inputs=2:duration=longest[out]"
	if got := argValue(t, cmd.Args, "-filter_complex"); got != want {
		t.Errorf("graph = %q", got)
	}

	if _, err := testBuilder().NarrationMix(nil, nil, "x.wav"); !errors.Is(err, apperr.ErrInsufficientInput) {
		t.Errorf("empty mix: %v", err)
	}
	if _, err := testBuilder().NarrationMix([]string{"a"}, []float64{0, 1}, "x.wav"); err == nil {
		t.Error("mismatched delays accepted")
	}
}

func TestSilentTrack(t *testing.T) {
	cmd := testBuilder().SilentTrack(11, "silence.wav")
	if got := argValue(t, cmd.Args, "-i"); !strings.HasPrefix(got, "anullsrc") {
		t.Errorf("-i = %q", got)
	}
	if got := argValue(t, cmd.Args, "-t"); got != "11" {
		t.Errorf("-t = %q", got)
	}
}

func TestSigned(t *testing.T) {
	tests := map[float64]string{0: "+0", 0.1: "+0.1", -0.2: "-0.2", 1.5: "+1.5"}
	for in, want := range tests {
		if got := signed(in); got != want {
			t.Errorf("signed(%v) = %q, want %q", in, got, want)
		}
	}
}
