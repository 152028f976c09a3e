package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIScriptModel  = "gpt-4o-mini"
	defaultOpenAIVoice = "alloy"
	maxLogLen          = 500
)

type OpenAIService struct {
	client *openai.Client
	voice  string
	log    *logger.Logger
}

// NewOpenAIService builds a client. An empty baseURL uses the public API.
func NewOpenAIService(apiKey, baseURL string, log *logger.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		voice:  defaultOpenAIVoice,
		log:    logger.OrDiscard(log).WithComponent("openai"),
	}
}

// WithVoice sets the default TTS voice used when a call passes none.
func (s *OpenAIService) WithVoice(voice string) *OpenAIService {
	if voice != "" {
		s.voice = voice
	}
	return s
}

// GenerateScripts asks the chat model for exactly count narration lines.
func (s *OpenAIService) GenerateScripts(ctx context.Context, topic string, count int) (*ScriptResult, error) {
	if count <= 0 {
		return nil, apperr.Newf(apperr.CodeConfiguration, "openai.scripts", "scene count must be positive, got %d", count)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openAIScriptModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scriptSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScriptPrompt(topic, count),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "openai.scripts"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "openai.scripts", "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.CodeUpstream, "openai.scripts", "no choices in response")
	}

	raw := resp.Choices[0].Message.Content
	scripts, err := parseScripts(raw)
	if err != nil {
		s.log.Warn("script parse failed", "error", err, "raw", truncateString(raw, maxLogLen))
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "openai.scripts", "unparseable script response")
	}

	if len(scripts) != count {
		s.log.Info("normalizing script count", "got", len(scripts), "want", count)
	}
	return newScriptResult(scripts, count), nil
}

// GenerateSpeech renders text as WAV with tts-1-hd.
func (s *OpenAIService) GenerateSpeech(ctx context.Context, text, voice string) (*TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.CodeConfiguration, "openai.speech", "empty narration text")
	}
	if voice == "" {
		voice = s.voice
	}

	raw, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1HD,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "openai.speech"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "openai.speech", "speech request failed")
	}
	defer raw.Close()

	audio, err := io.ReadAll(raw)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "openai.speech", "read audio")
	}
	if len(audio) == 0 {
		return nil, apperr.New(apperr.CodeUpstream, "openai.speech", "empty audio response")
	}

	s.log.Debug("speech generated", "voice", voice, "bytes", len(audio))
	return &TTSResponse{AudioData: audio, Format: "wav"}, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:maxLen], len(s))
}
