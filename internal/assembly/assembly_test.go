package assembly

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/motion"
	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/bobarin/storyreel/internal/workspace"
)

// fakeRunner records commands and fails the command whose output matches failOn.
type fakeRunner struct {
	mu       sync.Mutex
	commands []ffmpeg.Command
	failOn   string
	block    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, cmd ffmpeg.Command) error {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return apperr.Cancelled("fake", ctx.Err())
		}
	}

	if f.failOn != "" && cmd.Args[len(cmd.Args)-1] == f.failOn {
		return apperr.EncodingFailed("fake", 1, "Invalid data found when processing input")
	}
	return nil
}

func (f *fakeRunner) calls() []ffmpeg.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ffmpeg.Command(nil), f.commands...)
}

type fakeProber struct{ d float64 }

func (p fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	return p.d, nil
}

func testConfig(n int, clip, xfade float64) models.VideoConfig {
	cfg := models.DefaultVideoConfig()
	cfg.Topic = "glaciers"
	cfg.ImageCount = n
	cfg.ClipDuration = clip
	cfg.CrossfadeDuration = xfade
	return cfg
}

func testInput(cfg models.VideoConfig) ([]models.Beat, [][]byte) {
	beats := timeline.BuildBeatSheet(cfg)
	refs := make([]models.ImageRef, len(beats))
	images := make([][]byte, len(beats))
	for i := range beats {
		refs[i] = models.ImageRef{ID: string(rune('a' + i)), Author: "Photographer", AuthorURL: "https://unsplash.com/@p"}
		images[i] = []byte("jpeg-bytes")
	}
	return timeline.Attach(beats, refs, nil), images
}

func newAssembler(t *testing.T, cfg models.VideoConfig, runner ffmpeg.Runner, opts Options) (*Assembler, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "run")
	if err != nil {
		t.Fatal(err)
	}
	b := ffmpeg.NewBuilder("ffmpeg", cfg, ffmpeg.DefaultEncodeProfile())
	return New(cfg, b, runner, motion.NewSeeded(1), ws, opts), ws
}

func TestAssembleCompletes(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	runner := &fakeRunner{}
	a, ws := newAssembler(t, cfg, runner, Options{})
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-1", beats, images)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if job.Status != models.AssemblyStatusCompleted {
		t.Errorf("status = %s", job.Status)
	}
	if math.Abs(job.TotalDuration-11.0) > 1e-9 {
		t.Errorf("total duration = %v, want 11.0", job.TotalDuration)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d", job.Progress)
	}
	if job.OutputPath != ws.PictureLockPath() {
		t.Errorf("output = %q", job.OutputPath)
	}
	if job.Error != nil {
		t.Errorf("unexpected job error %+v", job.Error)
	}

	calls := runner.calls()
	if len(calls) != 4 {
		t.Fatalf("got %d encoder calls, want 3 clips + 1 crossfade", len(calls))
	}
	for i := 0; i < 3; i++ {
		if out := calls[i].Args[len(calls[i].Args)-1]; out != ws.ClipPath(i+1) {
			t.Errorf("clip %d rendered to %q", i+1, out)
		}
	}
	if len(job.Clips) != 3 {
		t.Errorf("clip results = %d", len(job.Clips))
	}
}

func TestAssembleMissingImageFailsFast(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	runner := &fakeRunner{}
	a, _ := newAssembler(t, cfg, runner, Options{})
	beats, images := testInput(cfg)
	beats[1].Image = nil

	job, err := a.Assemble(context.Background(), "job-2", beats, images)

	if !errors.Is(err, apperr.ErrMissingAsset) {
		t.Fatalf("expected missing asset, got %v", err)
	}
	if len(runner.calls()) != 0 {
		t.Errorf("encoder ran %d times on invalid input", len(runner.calls()))
	}
	if job.Status != models.AssemblyStatusFailed || job.OutputPath != "" {
		t.Errorf("job = %s, output %q", job.Status, job.OutputPath)
	}
	if job.Error == nil || job.Error.Code != string(apperr.CodeMissingAsset) {
		t.Errorf("job error = %+v", job.Error)
	}
}

func TestAssembleValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]models.Beat, [][]byte) ([]models.Beat, [][]byte)
		want   error
	}{
		{"empty image bytes", func(b []models.Beat, img [][]byte) ([]models.Beat, [][]byte) {
			img[2] = nil
			return b, img
		}, apperr.ErrMissingAsset},
		{"fewer images than beats", func(b []models.Beat, img [][]byte) ([]models.Beat, [][]byte) {
			return b, img[:2]
		}, apperr.ErrMissingAsset},
		{"zero duration", func(b []models.Beat, img [][]byte) ([]models.Beat, [][]byte) {
			b[0].Duration = 0
			return b, img
		}, apperr.ErrInvalidDuration},
		{"single beat", func(b []models.Beat, img [][]byte) ([]models.Beat, [][]byte) {
			return b[:1], img[:1]
		}, apperr.ErrInsufficientInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(3, 4, 0.5)
			runner := &fakeRunner{}
			a, _ := newAssembler(t, cfg, runner, Options{})
			beats, images := tt.mutate(testInput(cfg))

			_, err := a.Assemble(context.Background(), "job", beats, images)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if n := len(runner.calls()); n != 0 {
				t.Errorf("encoder ran %d times", n)
			}
		})
	}
}

func TestAssembleClipFailureAbortsRun(t *testing.T) {
	cfg := testConfig(4, 4, 0.5)
	runner := &fakeRunner{}
	a, ws := newAssembler(t, cfg, runner, Options{})
	runner.failOn = ws.ClipPath(2)
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-3", beats, images)

	if !errors.Is(err, apperr.ErrEncodingFailed) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if job.Status != models.AssemblyStatusFailed || job.OutputPath != "" {
		t.Errorf("job = %s output %q", job.Status, job.OutputPath)
	}
	if n := len(runner.calls()); n != 2 {
		t.Errorf("encoder calls = %d, want 2 (stop at failing clip, no crossfade)", n)
	}
	if len(job.Clips) != 2 || !job.Clips[0].Success || job.Clips[1].Success || job.Clips[1].Error == "" {
		t.Errorf("clip results = %+v", job.Clips)
	}
	if job.Error.Code != string(apperr.CodeEncodingFailed) {
		t.Errorf("job error code = %s", job.Error.Code)
	}
}

func TestAssembleCrossfadeFailure(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	runner := &fakeRunner{}
	a, ws := newAssembler(t, cfg, runner, Options{})
	runner.failOn = ws.PictureLockPath()
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-4", beats, images)
	if !errors.Is(err, apperr.ErrEncodingFailed) {
		t.Fatalf("expected encoding failure, got %v", err)
	}
	if job.Progress != clipPhaseEnd {
		t.Errorf("progress = %d, want %d", job.Progress, clipPhaseEnd)
	}
}

func TestAssembleProgressIsMonotonic(t *testing.T) {
	cfg := testConfig(5, 4, 0.5)
	var (
		mu        sync.Mutex
		snapshots []models.AssemblyJob
	)
	opts := Options{OnProgress: func(j models.AssemblyJob) {
		mu.Lock()
		snapshots = append(snapshots, j)
		mu.Unlock()
	}}
	a, _ := newAssembler(t, cfg, &fakeRunner{}, opts)
	beats, images := testInput(cfg)

	if _, err := a.Assemble(context.Background(), "job-5", beats, images); err != nil {
		t.Fatal(err)
	}

	if len(snapshots) < 3 {
		t.Fatalf("only %d progress snapshots", len(snapshots))
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].Progress < snapshots[i-1].Progress {
			t.Errorf("progress went backwards: %d -> %d", snapshots[i-1].Progress, snapshots[i].Progress)
		}
	}
	last := snapshots[len(snapshots)-1]
	if last.Status != models.AssemblyStatusCompleted || last.Progress != 100 {
		t.Errorf("last snapshot = %s %d", last.Status, last.Progress)
	}
}

func TestAssembleCancelled(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	runner := &fakeRunner{block: make(chan struct{})}
	a, _ := newAssembler(t, cfg, runner, Options{})
	beats, images := testInput(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(runner.calls()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	job, err := a.Assemble(ctx, "job-6", beats, images)
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if job.Status != models.AssemblyStatusFailed || job.Error.Code != string(apperr.CodeCancelled) {
		t.Errorf("job = %s %+v", job.Status, job.Error)
	}
}

func TestAssembleParallelKeepsBeatOrder(t *testing.T) {
	cfg := testConfig(6, 4, 0.5)
	runner := &fakeRunner{}
	a, ws := newAssembler(t, cfg, runner, Options{Concurrency: 3})
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-7", beats, images)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	calls := runner.calls()
	crossfade := calls[len(calls)-1]
	for i := 0; i < 6; i++ {
		if crossfade.Args[2*i+1] != ws.ClipPath(i+1) {
			t.Errorf("crossfade input %d = %q", i, crossfade.Args[2*i+1])
		}
	}
	for i, c := range job.Clips {
		if c.Index != i+1 {
			t.Errorf("clip result %d has index %d", i, c.Index)
		}
	}
}

func TestAssembleEffectsAreReusedInCommands(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	runner := &fakeRunner{}
	a, _ := newAssembler(t, cfg, runner, Options{})
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-8", beats, images)
	if err != nil {
		t.Fatal(err)
	}

	want := motion.NewSeeded(1).Sequence(3)
	if !reflect.DeepEqual(job.Effects, want) {
		t.Errorf("effects = %+v, want %+v", job.Effects, want)
	}
	for i, cmd := range runner.calls()[:3] {
		vf := a.builder.MotionFilter(want[i], 4)
		if cmd.Args[3] != vf {
			t.Errorf("clip %d filter = %q, want %q", i+1, cmd.Args[3], vf)
		}
	}
}

func TestAssembleUsesProbedDurations(t *testing.T) {
	cfg := testConfig(2, 4, 0.5)
	a, _ := newAssembler(t, cfg, &fakeRunner{}, Options{Prober: fakeProber{d: 4.033}})
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-9", beats, images)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range job.Clips {
		if c.Duration != 4.033 {
			t.Errorf("clip %d duration = %v", c.Index, c.Duration)
		}
	}
}

func TestReport(t *testing.T) {
	cfg := testConfig(3, 4, 0.5)
	a, _ := newAssembler(t, cfg, &fakeRunner{}, Options{})
	beats, images := testInput(cfg)

	job, err := a.Assemble(context.Background(), "job-10", beats, images)
	if err != nil {
		t.Fatal(err)
	}

	r1 := Report(job)
	r2 := Report(job)
	if !reflect.DeepEqual(r1, r2) {
		t.Error("Report is not idempotent")
	}

	if r1.JobID != "job-10" || r1.Status != models.AssemblyStatusCompleted || r1.BeatCount != 3 {
		t.Errorf("report header = %+v", r1)
	}
	if r1.TotalDuration != 11 || r1.NaiveDuration != 11 {
		t.Errorf("durations = %v / %v", r1.TotalDuration, r1.NaiveDuration)
	}
	if r1.Resolution != "1920x1080" || r1.FPS != 30 {
		t.Errorf("format = %s @ %d", r1.Resolution, r1.FPS)
	}
	if r1.ClipCount != 3 || r1.FailedClips != 0 || len(r1.Credits) != 3 {
		t.Errorf("clips %d failed %d credits %d", r1.ClipCount, r1.FailedClips, len(r1.Credits))
	}

	r1.Effects[0].StartScale = 9
	if job.Effects[0].StartScale == 9 {
		t.Error("report aliases job effects")
	}
}

func TestReportFailedJob(t *testing.T) {
	job := &models.AssemblyJob{
		ID:     "job-11",
		Status: models.AssemblyStatusFailed,
		Config: testConfig(2, 4, 0.5),
		Error:  &models.JobError{Code: "MISSING_ASSET", Message: "beat 2 has no image"},
	}
	r := Report(job)
	if r.Error == nil || r.Error.Code != "MISSING_ASSET" || r.OutputPath != "" {
		t.Errorf("report = %+v", r)
	}
	if Report(nil).JobID != "" {
		t.Error("nil job should give empty report")
	}
}
