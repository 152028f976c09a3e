package services

import (
	"context"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	"google.golang.org/genai"
)

const (
	geminiScriptModel  = "gemini-2.5-flash"
	geminiTTSModel     = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice = "Kore"

	// Gemini TTS returns raw 16-bit mono PCM at 24kHz.
	geminiSampleRate = 24000
	geminiChannels   = 1
)

type GeminiService struct {
	client *genai.Client
	voice  string
	log    *logger.Logger
}

// NewGeminiService creates a Gemini API client. An empty baseURL uses the
// public endpoint.
func NewGeminiService(ctx context.Context, apiKey, baseURL string, log *logger.Logger) (*GeminiService, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "gemini.client", "failed to create genai client")
	}

	return &GeminiService{
		client: client,
		voice:  defaultGeminiVoice,
		log:    logger.OrDiscard(log).WithComponent("gemini"),
	}, nil
}

// GenerateScripts asks Gemini for exactly count narration lines as JSON.
func (s *GeminiService) GenerateScripts(ctx context.Context, topic string, count int) (*ScriptResult, error) {
	if count <= 0 {
		return nil, apperr.Newf(apperr.CodeConfiguration, "gemini.scripts", "scene count must be positive, got %d", count)
	}

	temp := float32(0.7)
	resp, err := s.client.Models.GenerateContent(ctx, geminiScriptModel, genai.Text(buildScriptPrompt(topic, count)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(scriptSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temp,
	})
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "gemini.scripts"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "gemini.scripts", "generate content failed")
	}

	raw := resp.Text()
	scripts, err := parseScripts(raw)
	if err != nil {
		s.log.Warn("script parse failed", "error", err, "raw", truncateString(raw, maxLogLen))
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "gemini.scripts", "unparseable script response")
	}
	return newScriptResult(scripts, count), nil
}

// GenerateSpeech renders text with a prebuilt Gemini voice and wraps the PCM
// payload as WAV.
func (s *GeminiService) GenerateSpeech(ctx context.Context, text, voice string) (*TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.CodeConfiguration, "gemini.speech", "empty narration text")
	}
	if voice == "" {
		voice = s.voice
	}

	resp, err := s.client.Models.GenerateContent(ctx, geminiTTSModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	})
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "gemini.speech"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "gemini.speech", "speech request failed")
	}

	pcm := firstInlineData(resp)
	if len(pcm) == 0 {
		return nil, apperr.New(apperr.CodeUpstream, "gemini.speech", "no audio data in response")
	}

	s.log.Debug("speech generated", "voice", voice, "pcm_bytes", len(pcm))
	return &TTSResponse{AudioData: pcmToWAV(pcm, geminiSampleRate, geminiChannels), Format: "wav"}, nil
}

func firstInlineData(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}
