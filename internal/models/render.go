package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VoiceEngine selects how narration is produced.
type VoiceEngine string

const (
	VoiceEngineOpenAI VoiceEngine = "openai-tts"
	VoiceEngineGemini VoiceEngine = "gemini-tts"
	VoiceEngineDID    VoiceEngine = "d-id"
)

// Valid reports whether e is a known engine.
func (e VoiceEngine) Valid() bool {
	switch e {
	case VoiceEngineOpenAI, VoiceEngineGemini, VoiceEngineDID:
		return true
	}
	return false
}

// VideoConfig holds the immutable per-run settings.
type VideoConfig struct {
	Topic             string      `json:"topic" yaml:"-"`
	Keywords          []string    `json:"keywords,omitempty" yaml:"-"`
	ImageCount        int         `json:"image_count" yaml:"image_count"`
	ClipDuration      float64     `json:"clip_duration" yaml:"clip_duration"`
	CrossfadeDuration float64     `json:"crossfade_duration" yaml:"crossfade_duration"`
	OutputWidth       int         `json:"output_width" yaml:"width"`
	OutputHeight      int         `json:"output_height" yaml:"height"`
	FPS               int         `json:"fps" yaml:"fps"`
	VoiceEngine       VoiceEngine `json:"voice_engine" yaml:"voice_engine"`
	PresenterID       string      `json:"presenter_id,omitempty" yaml:"-"`
	Voice             string      `json:"voice,omitempty" yaml:"-"`
}

// DefaultVideoConfig returns the stock render settings with an empty topic.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		ImageCount:        12,
		ClipDuration:      5.0,
		CrossfadeDuration: 0.8,
		OutputWidth:       1920,
		OutputHeight:      1080,
		FPS:               30,
		VoiceEngine:       VoiceEngineOpenAI,
	}
}

// Resolution formats the output size as "WxH".
func (c VideoConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.OutputWidth, c.OutputHeight)
}

// Value stores the config as a JSONB column.
func (c VideoConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *VideoConfig) Scan(value interface{}) error {
	if value == nil {
		*c = VideoConfig{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("video config: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, c)
}

// ImageRef describes one sourced image and its attribution.
type ImageRef struct {
	ID          string `json:"id"`
	RawURL      string `json:"raw_url"`
	ThumbURL    string `json:"thumb_url,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	AuthorURL   string `json:"author_url,omitempty"`
}

// Credit renders the attribution line for reports.
func (r ImageRef) Credit() string {
	if r.Author == "" {
		return ""
	}
	if r.AuthorURL == "" {
		return "Photo by " + r.Author
	}
	return fmt.Sprintf("Photo by %s (%s)", r.Author, r.AuthorURL)
}

// Beat is one timed visual segment. Index is 1-based.
type Beat struct {
	Index    int       `json:"idx"`
	Duration float64   `json:"dur"`
	Start    float64   `json:"start"`
	End      float64   `json:"end"`
	Image    *ImageRef `json:"image,omitempty"`
	Script   string    `json:"script,omitempty"`
}

// MotionEffect is a Ken Burns pan/zoom. Offsets are fractions of the frame size.
type MotionEffect struct {
	StartScale float64 `json:"start_scale"`
	EndScale   float64 `json:"end_scale"`
	StartX     float64 `json:"start_x"`
	StartY     float64 `json:"start_y"`
	EndX       float64 `json:"end_x"`
	EndY       float64 `json:"end_y"`
}

// ClipProcessingResult is the outcome of rendering one beat.
type ClipProcessingResult struct {
	Index      int     `json:"index"`
	InputPath  string  `json:"input_path"`
	OutputPath string  `json:"output_path"`
	Success    bool    `json:"success"`
	Duration   float64 `json:"duration"`
	Error      string  `json:"error,omitempty"`
}

type AssemblyStatus string

const (
	AssemblyStatusPending    AssemblyStatus = "pending"
	AssemblyStatusProcessing AssemblyStatus = "processing"
	AssemblyStatusCompleted  AssemblyStatus = "completed"
	AssemblyStatusFailed     AssemblyStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s AssemblyStatus) IsTerminal() bool {
	return s == AssemblyStatusCompleted || s == AssemblyStatusFailed
}

// JobError is the classified failure recorded on a job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssemblyJob is the state of one assembly run.
type AssemblyJob struct {
	ID            string                 `json:"id"`
	Beats         []Beat                 `json:"beats"`
	Config        VideoConfig            `json:"config"`
	Status        AssemblyStatus         `json:"status"`
	Progress      int                    `json:"progress"`
	CurrentStep   string                 `json:"current_step"`
	OutputPath    string                 `json:"output_path,omitempty"`
	TotalDuration float64                `json:"total_duration"`
	Clips         []ClipProcessingResult `json:"clips,omitempty"`
	Effects       []MotionEffect         `json:"effects,omitempty"`
	Error         *JobError              `json:"error,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// AssemblyReport is the display/audit summary of a terminal AssemblyJob.
type AssemblyReport struct {
	JobID         string         `json:"job_id"`
	Status        AssemblyStatus `json:"status"`
	BeatCount     int            `json:"beat_count"`
	TotalDuration float64        `json:"total_duration"`
	NaiveDuration float64        `json:"naive_duration"`
	OutputPath    string         `json:"output_path,omitempty"`
	Resolution    string         `json:"resolution"`
	FPS           int            `json:"fps"`
	ClipCount     int            `json:"clip_count"`
	FailedClips   int            `json:"failed_clips"`
	ClipDurations []float64      `json:"clip_durations,omitempty"`
	Effects       []MotionEffect `json:"effects,omitempty"`
	Credits       []string       `json:"credits,omitempty"`
	Error         *JobError      `json:"error,omitempty"`
}

// Narration describes the audio track that was muxed into the master.
type Narration struct {
	Engine   VoiceEngine `json:"engine"`
	Path     string      `json:"path"`
	Degraded bool        `json:"degraded"`
	Code     string      `json:"code,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}
