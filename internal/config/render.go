package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bobarin/storyreel/internal/ffmpeg"
	"github.com/bobarin/storyreel/internal/models"
)

// RenderDefaults are the per-video settings applied before request
// overrides, plus the master encode profile.
type RenderDefaults struct {
	Video  models.VideoConfig   `yaml:"video"`
	Encode ffmpeg.EncodeProfile `yaml:"encode"`
}

func DefaultRenderDefaults() RenderDefaults {
	return RenderDefaults{
		Video:  models.DefaultVideoConfig(),
		Encode: ffmpeg.DefaultEncodeProfile(),
	}
}

// LoadRenderDefaults reads path over the built-in defaults. Keys absent
// from the file keep their default value. A missing file is not an error.
func LoadRenderDefaults(path string) (RenderDefaults, error) {
	rd := DefaultRenderDefaults()
	if path == "" {
		return rd, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rd, nil
	}
	if err != nil {
		return rd, fmt.Errorf("read render config: %w", err)
	}

	if err := yaml.Unmarshal(data, &rd); err != nil {
		return rd, fmt.Errorf("parse render config %s: %w", path, err)
	}

	if !rd.Video.VoiceEngine.Valid() {
		return rd, fmt.Errorf("render config %s: unknown voice_engine %q", path, rd.Video.VoiceEngine)
	}
	return rd, nil
}
