package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/storyreel/internal/api"
	"github.com/bobarin/storyreel/internal/avatar"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/pipeline"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/worker"
)

func main() {
	log := logger.NewDefault()
	log.Info("starting storyreel API")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	render, err := config.LoadRenderDefaults(cfg.RenderConfigPath)
	if err != nil {
		log.Error("failed to load render defaults", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	log.Info("connected to redis queue")

	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, log)

	// D-ID is optional: without it d-id runs degrade (or fail when fallback is off)
	// and the presenters and voices endpoints report 503.
	var did *services.DIDService
	var avatars api.AvatarCatalog
	if cfg.DIDKey != "" {
		did = services.NewDIDService(cfg.DIDKey, cfg.DIDURL, log)
		avatars = did
	}

	handler := api.NewHandler(database, q, stor, avatars, render.Video, log)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Info("API key authentication enabled")
	} else {
		log.Warn("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		p, err := buildPipeline(ctx, cfg, render, did, log)
		if err != nil {
			log.Error("failed to initialize pipeline", "error", err)
			os.Exit(1)
		}

		w := worker.New(database, q, stor, p, worker.Options{
			WorkDir:       cfg.WorkDir,
			KeepWorkspace: cfg.KeepWorkspace,
			UploadSlots:   cfg.UploadSlots,
			Bucket:        cfg.SupabaseStorageBucket,
			Logger:        log,
		})

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	go func() {
		log.Info("API server listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Cancelling the worker context stops in-flight encoders; their jobs are
	// recorded as CANCELLED.
	if workerCancel != nil {
		workerCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exited")
}

func buildPipeline(ctx context.Context, cfg *config.Config, render config.RenderDefaults, did *services.DIDService, log *logger.Logger) (*pipeline.Pipeline, error) {
	voices := make(map[models.VoiceEngine]services.TTSService)

	var openaiSvc *services.OpenAIService
	if cfg.OpenAIKey != "" {
		openaiSvc = services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIBaseURL, log).WithVoice(cfg.OpenAITTSVoice)
		voices[models.VoiceEngineOpenAI] = openaiSvc
	}

	var geminiSvc *services.GeminiService
	if cfg.GeminiKey != "" {
		var err error
		geminiSvc, err = services.NewGeminiService(ctx, cfg.GeminiKey, cfg.GeminiBaseURL, log)
		if err != nil {
			return nil, err
		}
		voices[models.VoiceEngineGemini] = geminiSvc
	}

	var scripts services.ScriptWriter = openaiSvc
	if cfg.ScriptProvider == "gemini" {
		scripts = geminiSvc
	}
	log.Info("script provider selected", "provider", cfg.ScriptProvider)

	deps := pipeline.Deps{
		Scripts: scripts,
		Images:  services.NewUnsplashService(cfg.UnsplashAccessKey, cfg.UnsplashURL, log),
		Voices:  voices,
		Poller:  avatar.NewPoller(cfg.DIDPollInterval, cfg.DIDMaxAttempts, log),
		Runner:  ffmpeg.NewExecRunner(cfg.MaxConcurrentEncodes, log),
		Prober:  ffmpeg.NewProber(cfg.FFprobePath),
	}
	if did != nil {
		deps.Avatar = did
	} else {
		log.Warn("DID_API_KEY not set, d-id narration unavailable")
	}

	return pipeline.New(deps, pipeline.Options{
		FFmpegPath:        cfg.FFmpegPath,
		Profile:           render.Encode,
		ClipConcurrency:   cfg.ClipConcurrency,
		NarrationFallback: cfg.NarrationFallback,
		MotionSeed:        cfg.MotionSeed,
		Logger:            log,
	}), nil
}
