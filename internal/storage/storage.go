// Package storage uploads run artifacts to Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/google/uuid"
)

const (
	// Per-attempt timeouts. Master files can be several hundred MB.
	uploadTimeout   = 300 * time.Second
	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	log        *logger.Logger

	// backoff returns the wait before retry attempt n (1-based).
	backoff func(attempt int) time.Duration
}

func New(url, serviceKey, bucket string, log *logger.Logger) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:     logger.OrDiscard(log).WithComponent("storage"),
		backoff: retryDelay,
	}
}

// attemptResult is the outcome of one HTTP attempt.
type attemptResult struct {
	body      []byte
	err       error
	retryable bool
}

// withRetry runs attempt until it succeeds, fails permanently, or the retry
// budget is spent.
func (s *Storage) withRetry(ctx context.Context, op, objectPath string, attempt func(ctx context.Context) attemptResult) ([]byte, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := s.backoff(i)
			s.log.Warn("retrying storage request", "op", op, "path", objectPath, "attempt", i+1, "wait", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apperr.Cancelled("storage."+op, ctx.Err())
			case <-timer.C:
			}
		}

		res := attempt(ctx)
		if res.err == nil {
			if i > 0 {
				s.log.Info("storage request succeeded after retry", "op", op, "path", objectPath, "attempt", i+1)
			}
			return res.body, nil
		}
		lastErr = res.err
		if ctx.Err() != nil {
			return nil, apperr.Cancelled("storage."+op, ctx.Err())
		}
		if !res.retryable {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries+1, lastErr)
}

// Upload puts data at objectPath with upsert semantics.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	url := s.objectURL(objectPath)

	_, err := s.withRetry(ctx, "upload", objectPath, func(ctx context.Context) attemptResult {
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return attemptResult{err: fmt.Errorf("failed to create request: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		return s.do(req, http.StatusOK, http.StatusCreated)
	})
	return err
}

// UploadFile uploads a local file.
func (s *Storage) UploadFile(ctx context.Context, storagePath, localPath, contentType string) (int64, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s: %w", localPath, err)
	}
	if err := s.Upload(ctx, storagePath, data, contentType); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *Storage) Download(ctx context.Context, objectPath string) ([]byte, error) {
	url := s.objectURL(objectPath)

	return s.withRetry(ctx, "download", objectPath, func(ctx context.Context) attemptResult {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			return attemptResult{err: fmt.Errorf("failed to create request: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		return s.do(req, http.StatusOK)
	})
}

func (s *Storage) do(req *http.Request, okStatus ...int) attemptResult {
	resp, err := s.client.Do(req)
	if err != nil {
		return attemptResult{err: fmt.Errorf("%s request failed: %w", req.Method, err), retryable: isRetryableError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to read body: %w", err), retryable: true}
	}

	for _, code := range okStatus {
		if resp.StatusCode == code {
			return attemptResult{body: body}
		}
	}

	return attemptResult{
		err:       fmt.Errorf("storage returned status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		retryable: isRetryableStatus(resp.StatusCode),
	}
}

func (s *Storage) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// GetSignedURL creates a URL valid for expiresIn seconds.
func (s *Storage) GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, objectPath)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	res := s.do(req, http.StatusOK)
	if res.err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", res.err)
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(res.body, &result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + "/storage/v1" + result.SignedURL, nil
}

// VideoPath is the object path of a video artifact: <video-id>/<filename>.
func VideoPath(videoID uuid.UUID, filename string) string {
	return path.Join(videoID.String(), filename)
}

func (s *Storage) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)
}

// retryDelay is exponential backoff with up to 25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
