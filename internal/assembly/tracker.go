package assembly

import (
	"sync"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
)

// tracker guards the AssemblyJob of one run. Progress only moves forward and
// nothing changes once the job is terminal.
type tracker struct {
	mu         sync.Mutex
	job        *models.AssemblyJob
	onProgress func(models.AssemblyJob)
	now        func() time.Time
}

func newTracker(job *models.AssemblyJob, onProgress func(models.AssemblyJob), now func() time.Time) *tracker {
	if now == nil {
		now = time.Now
	}
	return &tracker{job: job, onProgress: onProgress, now: now}
}

// start moves pending to processing.
func (t *tracker) start(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status != models.AssemblyStatusPending {
		return
	}
	t.job.Status = models.AssemblyStatusProcessing
	t.job.StartedAt = t.now()
	t.job.CurrentStep = step
	t.notify()
}

func (t *tracker) advance(progress int, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() {
		return
	}
	if progress > t.job.Progress {
		t.job.Progress = min(progress, 100)
	}
	if step != "" {
		t.job.CurrentStep = step
	}
	t.notify()
}

func (t *tracker) setClips(clips []models.ClipProcessingResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Clips = clips
}

func (t *tracker) complete(outputPath string, totalDuration float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() {
		return
	}
	finished := t.now()
	t.job.Status = models.AssemblyStatusCompleted
	t.job.Progress = 100
	t.job.CurrentStep = "completed"
	t.job.OutputPath = outputPath
	t.job.TotalDuration = totalDuration
	t.job.FinishedAt = &finished
	t.notify()
}

func (t *tracker) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() {
		return
	}
	finished := t.now()
	t.job.Status = models.AssemblyStatusFailed
	t.job.CurrentStep = "failed"
	t.job.OutputPath = ""
	t.job.Error = &models.JobError{
		Code:    string(apperr.CodeOf(err)),
		Message: apperr.Message(err),
	}
	t.job.FinishedAt = &finished
	t.notify()
}

// notify must be called with mu held so callbacks observe progress in order.
func (t *tracker) notify() {
	if t.onProgress != nil {
		t.onProgress(snapshot(t.job))
	}
}

// snapshot copies the job so callers can keep it past the run.
func snapshot(job *models.AssemblyJob) models.AssemblyJob {
	s := *job
	s.Beats = append([]models.Beat(nil), job.Beats...)
	s.Clips = append([]models.ClipProcessingResult(nil), job.Clips...)
	s.Effects = append([]models.MotionEffect(nil), job.Effects...)
	if job.Error != nil {
		e := *job.Error
		s.Error = &e
	}
	if job.FinishedAt != nil {
		f := *job.FinishedAt
		s.FinishedAt = &f
	}
	return s
}
