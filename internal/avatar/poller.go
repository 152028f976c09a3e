package avatar

import (
	"context"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 30
)

type phase int

const (
	phasePolling phase = iota
	phaseWaiting
	phaseTimeout
)

// Poller drives a submitted job to done, error or timeout. MaxAttempts is
// the exact number of Poll calls allowed; a failed poll request uses up an
// attempt and is retried like an intermediate state.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Waiter      Waiter
	log         *logger.Logger
}

func NewPoller(interval time.Duration, maxAttempts int, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		Interval:    interval,
		MaxAttempts: maxAttempts,
		Waiter:      TimerWaiter{},
		log:         logger.OrDiscard(log).WithComponent("avatar"),
	}
}

// Result locates a finished render.
type Result struct {
	JobID     string
	ResultURL string
	Attempts  int
}

// Render submits req and waits for it to finish.
func (p *Poller) Render(ctx context.Context, svc Service, req Request) (*Result, error) {
	jobID, err := svc.Submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Cancelled("avatar.submit", ctx.Err())
		}
		return nil, apperr.Wrap(err, apperr.CodeRemoteRender, "avatar.submit", "submission rejected")
	}

	p.logger().Info("avatar job submitted", "remote_job_id", jobID, "presenter", req.PresenterID)
	return p.Await(ctx, svc, jobID)
}

// Await polls jobID until it reaches a terminal state or the attempt budget
// runs out.
func (p *Poller) Await(ctx context.Context, svc Service, jobID string) (*Result, error) {
	log := p.logger().With("remote_job_id", jobID)
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		state    = phasePolling
		attempts int
		lastErr  error
	)

	for {
		switch state {
		case phasePolling:
			if err := apperr.FromContext(ctx, "avatar.poll"); err != nil {
				return nil, err
			}

			attempts++
			status, err := svc.Poll(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, apperr.Cancelled("avatar.poll", ctx.Err())
				}
				lastErr = err
				log.Warn("poll request failed", "attempt", attempts, "error", err)
				state = p.after(attempts, maxAttempts)
				continue
			}

			switch status.State {
			case StateDone:
				if status.ResultURL == "" {
					return nil, apperr.Newf(apperr.CodeRemoteRender, "avatar.poll",
						"job %s finished without a result url", jobID)
				}
				log.Info("avatar job done", "attempts", attempts)
				return &Result{JobID: jobID, ResultURL: status.ResultURL, Attempts: attempts}, nil
			case StateError:
				reason := status.Reason
				if reason == "" {
					reason = "unknown error"
				}
				return nil, apperr.Newf(apperr.CodeRemoteRender, "avatar.poll",
					"job %s failed: %s", jobID, reason).WithField("attempts", attempts)
			default:
				log.Debug("avatar job pending", "attempt", attempts, "state", status.State)
				state = p.after(attempts, maxAttempts)
			}

		case phaseWaiting:
			if err := p.waiter().Wait(ctx, p.Interval); err != nil {
				return nil, apperr.Cancelled("avatar.wait", err)
			}
			state = phasePolling

		case phaseTimeout:
			e := apperr.Newf(apperr.CodePollTimeout, "avatar.poll",
				"job %s not finished after %d attempts", jobID, attempts)
			e.Err = lastErr
			return nil, e.WithField("attempts", attempts)
		}
	}
}

// after picks the next phase once a non-terminal poll has been counted.
// There is no wait after the final attempt.
func (p *Poller) after(attempts, maxAttempts int) phase {
	if attempts >= maxAttempts {
		return phaseTimeout
	}
	return phaseWaiting
}

func (p *Poller) waiter() Waiter {
	if p.Waiter == nil {
		return TimerWaiter{}
	}
	return p.Waiter
}

func (p *Poller) logger() *logger.Logger {
	return logger.OrDiscard(p.log)
}
