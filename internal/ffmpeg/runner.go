package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
)

const (
	maxStderrBytes = 8 * 1024

	// waitDelay bounds how long Wait blocks on pipes after the process is killed.
	waitDelay = 5 * time.Second

	// DefaultProbeProgram is the prober looked up on PATH.
	DefaultProbeProgram = "ffprobe"
)

// Runner executes an encoder command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner spawns commands as child processes. A shared semaphore caps
// how many encoders run at once across every pipeline run in the process.
type ExecRunner struct {
	sem *semaphore.Weighted
	log *logger.Logger
}

// NewExecRunner caps concurrent encoders at maxConcurrent (minimum 1).
func NewExecRunner(maxConcurrent int64, log *logger.Logger) *ExecRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ExecRunner{
		sem: semaphore.NewWeighted(maxConcurrent),
		log: logger.OrDiscard(log).WithComponent("ffmpeg"),
	}
}

// Run blocks until the command exits. Cancelling ctx kills the process and
// returns a CANCELLED error; a non-zero exit returns ENCODING_FAILED with
// the tail of stderr.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return apperr.Cancelled("ffmpeg.run", err)
	}
	defer r.sem.Release(1)

	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.WaitDelay = waitDelay

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.log.Debug("executing encoder", "command", c.String())

	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		r.log.Debug("encoder finished", "duration_ms", elapsed.Milliseconds())
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.log.Warn("encoder cancelled", "duration_ms", elapsed.Milliseconds())
		return apperr.Cancelled("ffmpeg.run", ctxErr)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	tail := stderrBuf.String()
	r.log.Warn("encoder failed",
		"exit_code", exitCode,
		"duration_ms", elapsed.Milliseconds(),
		"stderr_tail", truncate(tail, 512),
	)

	e := apperr.EncodingFailed("ffmpeg.run", exitCode, tail)
	if exitCode == -1 {
		e.Err = err
	}
	return e
}

// Prober reads media durations with ffprobe.
type Prober struct {
	Program string
}

func NewProber(program string) *Prober {
	if program == "" {
		program = DefaultProbeProgram
	}
	return &Prober{Program: program}
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	output, err := exec.CommandContext(ctx, p.Program, args...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, apperr.Cancelled("ffmpeg.probe", ctxErr)
		}
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseDuration(output)
}

func parseDuration(output []byte) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return d, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
