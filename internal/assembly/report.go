package assembly

import (
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/timeline"
)

// Report summarizes a job for display and audit. It reads the job only and
// returns equal reports for equal jobs.
func Report(job *models.AssemblyJob) models.AssemblyReport {
	if job == nil {
		return models.AssemblyReport{}
	}

	naiveCfg := job.Config
	naiveCfg.ImageCount = len(job.Beats)

	r := models.AssemblyReport{
		JobID:         job.ID,
		Status:        job.Status,
		BeatCount:     len(job.Beats),
		TotalDuration: job.TotalDuration,
		NaiveDuration: timeline.NaiveDuration(naiveCfg),
		OutputPath:    job.OutputPath,
		Resolution:    job.Config.Resolution(),
		FPS:           job.Config.FPS,
	}

	for _, c := range job.Clips {
		if c.Success {
			r.ClipCount++
			r.ClipDurations = append(r.ClipDurations, c.Duration)
		} else {
			r.FailedClips++
		}
	}

	if len(job.Effects) > 0 {
		r.Effects = append([]models.MotionEffect(nil), job.Effects...)
	}

	for _, b := range job.Beats {
		if b.Image == nil {
			continue
		}
		if credit := b.Image.Credit(); credit != "" {
			r.Credits = append(r.Credits, credit)
		}
	}

	if job.Error != nil {
		e := *job.Error
		r.Error = &e
	}
	return r
}
