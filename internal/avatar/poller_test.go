package avatar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
)

type pollResponse struct {
	status Status
	err    error
}

// scriptedService replays poll responses in order, repeating the last one.
type scriptedService struct {
	submitID  string
	submitErr error
	responses []pollResponse
	polls     int
	submitted []Request
}

func (s *scriptedService) Submit(ctx context.Context, req Request) (string, error) {
	s.submitted = append(s.submitted, req)
	return s.submitID, s.submitErr
}

func (s *scriptedService) Poll(ctx context.Context, jobID string) (Status, error) {
	i := s.polls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.polls++
	return s.responses[i].status, s.responses[i].err
}

type countingWaiter struct {
	waits int
	err   error
}

func (w *countingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.waits++
	return w.err
}

func processing() pollResponse { return pollResponse{status: Status{State: StateProcessing}} }

func done(url string) pollResponse {
	return pollResponse{status: Status{State: StateDone, ResultURL: url}}
}

func newTestPoller(max int) (*Poller, *countingWaiter) {
	w := &countingWaiter{}
	p := NewPoller(time.Second, max, nil)
	p.Waiter = w
	return p, w
}

func TestRenderDoneAfterProcessing(t *testing.T) {
	svc := &scriptedService{
		submitID:  "X",
		responses: []pollResponse{processing(), processing(), done("https://cdn/x.mp4")},
	}
	p, w := newTestPoller(10)

	res, err := p.Render(context.Background(), svc, Request{Script: "hello", PresenterID: "amy"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.JobID != "X" || res.ResultURL != "https://cdn/x.mp4" {
		t.Errorf("result = %+v", res)
	}
	if svc.polls != 3 || res.Attempts != 3 {
		t.Errorf("polls = %d attempts = %d, want 3", svc.polls, res.Attempts)
	}
	if w.waits != 2 {
		t.Errorf("waits = %d, want 2", w.waits)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].PresenterID != "amy" {
		t.Errorf("submitted = %+v", svc.submitted)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	svc := &scriptedService{responses: []pollResponse{processing()}}
	p, w := newTestPoller(5)

	_, err := p.Await(context.Background(), svc, "X")
	if !errors.Is(err, apperr.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if svc.polls != 5 {
		t.Errorf("polls = %d, want 5", svc.polls)
	}
	if w.waits != 4 {
		t.Errorf("waits = %d, want 4 (no wait after the final attempt)", w.waits)
	}
}

func TestAwaitRetriesTransportError(t *testing.T) {
	netErr := errors.New("connection reset by peer")
	svc := &scriptedService{responses: []pollResponse{{err: netErr}, done("https://cdn/y.mp4")}}
	p, _ := newTestPoller(5)

	res, err := p.Await(context.Background(), svc, "Y")
	if err != nil {
		t.Fatalf("single transport failure aborted the wait: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d", res.Attempts)
	}
}

func TestAwaitTimeoutWrapsLastTransportError(t *testing.T) {
	netErr := errors.New("i/o timeout")
	svc := &scriptedService{responses: []pollResponse{processing(), {err: netErr}}}
	p, _ := newTestPoller(3)

	_, err := p.Await(context.Background(), svc, "Z")
	if !errors.Is(err, apperr.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if !errors.Is(err, netErr) {
		t.Errorf("timeout does not wrap last transport error: %v", err)
	}
}

func TestAwaitRemoteError(t *testing.T) {
	svc := &scriptedService{responses: []pollResponse{
		processing(),
		{status: Status{State: StateError, Reason: "presenter image rejected"}},
		done("never"),
	}}
	p, _ := newTestPoller(10)

	_, err := p.Await(context.Background(), svc, "E")
	if !errors.Is(err, apperr.ErrRemoteRender) {
		t.Fatalf("expected remote render error, got %v", err)
	}
	if !strings.Contains(err.Error(), "presenter image rejected") {
		t.Errorf("reason missing from %q", err)
	}
	if svc.polls != 2 {
		t.Errorf("polls = %d, want 2", svc.polls)
	}
}

func TestAwaitDoneWithoutURL(t *testing.T) {
	svc := &scriptedService{responses: []pollResponse{done("")}}
	p, _ := newTestPoller(3)
	if _, err := p.Await(context.Background(), svc, "D"); !errors.Is(err, apperr.ErrRemoteRender) {
		t.Fatalf("expected remote render error, got %v", err)
	}
}

func TestRenderSubmitFailure(t *testing.T) {
	svc := &scriptedService{submitErr: errors.New("401 unauthorized"), responses: []pollResponse{done("x")}}
	p, _ := newTestPoller(3)

	_, err := p.Render(context.Background(), svc, Request{Script: "s"})
	if !errors.Is(err, apperr.ErrRemoteRender) {
		t.Fatalf("expected remote render error, got %v", err)
	}
	if svc.polls != 0 {
		t.Errorf("polled %d times after failed submit", svc.polls)
	}
}

func TestAwaitCancelledDuringWait(t *testing.T) {
	svc := &scriptedService{responses: []pollResponse{processing()}}
	p := NewPoller(time.Hour, 10, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Await(ctx, svc, "C")
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("wait was not interrupted")
	}
	if svc.polls != 1 {
		t.Errorf("polls = %d", svc.polls)
	}
}

func TestAwaitCancelledBeforeStart(t *testing.T) {
	svc := &scriptedService{responses: []pollResponse{done("x")}}
	p, _ := newTestPoller(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Await(ctx, svc, "C"); !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if svc.polls != 0 {
		t.Errorf("polls = %d", svc.polls)
	}
}

func TestTimerWaiter(t *testing.T) {
	if err := (TimerWaiter{}).Wait(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (TimerWaiter{}).Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v", err)
	}
}

func TestNewPollerDefaults(t *testing.T) {
	p := NewPoller(0, 0, nil)
	if p.Interval != DefaultInterval || p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("defaults = %v / %d", p.Interval, p.MaxAttempts)
	}
}
