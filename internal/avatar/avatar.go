// Package avatar submits narration to an asynchronous talking-avatar
// renderer and waits for the result with a bounded poll loop.
package avatar

import (
	"context"
	"time"
)

// State is the remote job state as seen by the poller.
type State string

const (
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
)

// Request is a narration render submission.
type Request struct {
	Script      string
	PresenterID string
	Provider    string
	VoiceID     string
}

// Status is one poll observation.
type Status struct {
	State     State
	ResultURL string
	Reason    string
}

// Service is the remote renderer.
type Service interface {
	Submit(ctx context.Context, req Request) (string, error)
	Poll(ctx context.Context, jobID string) (Status, error)
}

// Waiter pauses between polls and returns early with ctx's error.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter waits on a real timer.
type TimerWaiter struct{}

func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
