package services

import "context"

// ---------------------------------------------------------------------------
// TTSService: common interface for text-to-speech providers
// OpenAI and Gemini both implement this interface so the pipeline can use
// whichever engine a video selects without knowing the provider.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData []byte
	Format    string // always "wav" so lines can be mixed without transcoding
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts text to audio. voice is a provider voice name;
	// empty selects the provider default.
	GenerateSpeech(ctx context.Context, text, voice string) (*TTSResponse, error)
}

// ScriptWriter produces exactly count narration lines for a topic.
type ScriptWriter interface {
	GenerateScripts(ctx context.Context, topic string, count int) (*ScriptResult, error)
}
