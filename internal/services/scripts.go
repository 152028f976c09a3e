package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	// minNarrationSec is the minimum narration length a script should fill.
	minNarrationSec = 60.0
	// minSceneSec is the floor for a single scene's narration.
	minSceneSec = 4.0

	scriptPadSuffix  = " The story continues to unfold with breathtaking detail."
	scriptPadDefault = "Continuing the visual journey..."

	scriptSystemPrompt = "You are a professional scriptwriter specializing in visual storytelling for documentaries and promotional videos. " +
		"Create engaging, detailed narratives that provide sufficient content for the specified duration. " +
		`Always respond with a JSON object of the form {"scripts": ["...", "..."]}.`
)

// ScriptResult is one narration line per scene plus the narration length
// the lines were written for.
type ScriptResult struct {
	Scripts       []string `json:"scripts"`
	TotalDuration float64  `json:"total_duration"`
}

// sceneDuration is the per-scene narration target for count scenes.
func sceneDuration(count int) float64 {
	if count <= 0 {
		return minSceneSec
	}
	return math.Max(minNarrationSec/float64(count), minSceneSec)
}

func buildScriptPrompt(topic string, count int) string {
	per := sceneDuration(count)
	total := per * float64(count)

	return fmt.Sprintf(`Create a compelling, professional narrative script for a %.0f-second video about "%s".

The video has %d scenes, each lasting approximately %.1f seconds.

Requirements:
- Write %d distinct narrative segments that tell a cohesive story
- Each segment should be 2-3 sentences to fill %.1f seconds of narration
- Create engaging, documentary-style content with vivid descriptions
- Ensure smooth transitions between scenes
- Total script should provide at least %.0f seconds of narration

Respond with JSON: {"scripts": ["Opening narrative for scene 1...", "Continuing story for scene 2...", ...]}`,
		total, topic, count, per, count, per, minNarrationSec)
}

// parseScripts accepts {"scripts": [...]}, a bare JSON array, or an array
// embedded in surrounding prose such as a markdown fence.
func parseScripts(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty script response")
	}

	var wrapped struct {
		Scripts []string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && len(wrapped.Scripts) > 0 {
		return wrapped.Scripts, nil
	}

	var bare []string
	if err := json.Unmarshal([]byte(content), &bare); err == nil {
		return bare, nil
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &bare); err == nil {
			return bare, nil
		}
	}

	return nil, fmt.Errorf("script response is not a JSON list of strings")
}

// normalizeScripts pads a short list by extending the last line and trims a
// long one, so the result always has exactly count entries. Each pad extends
// the line before it, so suffixes accumulate across pads.
func normalizeScripts(scripts []string, count int) []string {
	out := make([]string, 0, count)
	for _, s := range scripts {
		if len(out) == count {
			break
		}
		out = append(out, strings.TrimSpace(s))
	}
	for len(out) < count {
		last := scriptPadDefault
		if len(out) > 0 && out[len(out)-1] != "" {
			last = out[len(out)-1]
		}
		out = append(out, last+scriptPadSuffix)
	}
	return out
}

func newScriptResult(scripts []string, count int) *ScriptResult {
	return &ScriptResult{
		Scripts:       normalizeScripts(scripts, count),
		TotalDuration: sceneDuration(count) * float64(count),
	}
}
