package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/google/uuid"
)

func newTestStorage(srv *httptest.Server) *Storage {
	s := New(srv.URL, "service-key", "videos", nil)
	s.backoff = func(int) time.Duration { return time.Millisecond }
	return s
}

func TestUploadRetriesRetryableStatus(t *testing.T) {
	var calls int32
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("x-upsert") != "true" || r.Header.Get("Authorization") != "Bearer service-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestStorage(srv).Upload(context.Background(), "v/master.mp4", []byte("mp4"), "video/mp4"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if body != "mp4" {
		t.Errorf("body = %q", body)
	}
}

func TestUploadStopsOnPermanentError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	if err := newTestStorage(srv).Upload(context.Background(), "v/master.mp4", []byte("x"), "video/mp4"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUploadGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := newTestStorage(srv).Upload(context.Background(), "p", []byte("x"), "text/plain"); err == nil {
		t.Fatal("expected error")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestUploadCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newTestStorage(srv)
	ctx, cancel := context.WithCancel(context.Background())
	s.backoff = func(int) time.Duration {
		cancel()
		return time.Hour
	}

	err := s.Upload(ctx, "p", []byte("x"), "text/plain")
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestUploadFileAndDownload(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := stored[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		}
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(local, []byte(`{"ok":true}`), 0644); err != nil {
		t.Fatal(err)
	}

	s := newTestStorage(srv)
	size, err := s.UploadFile(context.Background(), "vid/report.json", local, "application/json")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if size != 11 {
		t.Errorf("size = %d", size)
	}

	data, err := s.Download(context.Background(), "vid/report.json")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("data = %q", data)
	}

	if _, err := s.Download(context.Background(), "vid/missing.json"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestGetSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/sign/videos/vid/master.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"signedURL":"/object/sign/videos/vid/master.mp4?token=abc"}`))
	}))
	defer srv.Close()

	got, err := newTestStorage(srv).GetSignedURL(context.Background(), "vid/master.mp4", 3600)
	if err != nil {
		t.Fatalf("GetSignedURL: %v", err)
	}
	want := srv.URL + "/storage/v1/object/sign/videos/vid/master.mp4?token=abc"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}

func TestVideoPath(t *testing.T) {
	id := uuid.MustParse("6f1d0c2a-3a43-4f4f-9a37-0b7c1d1c9d11")
	if got := VideoPath(id, "master.mp4"); got != "6f1d0c2a-3a43-4f4f-9a37-0b7c1d1c9d11/master.mp4" {
		t.Errorf("VideoPath = %q", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(attempt)
		if d < baseRetryDelay || d > maxRetryDelay+maxRetryDelay/4 {
			t.Errorf("retryDelay(%d) = %v out of bounds", attempt, d)
		}
	}
}
