// Package workspace owns the per-run working directory. Every run gets its
// own tree keyed by run id so concurrent runs never share files.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	imagesDir = "images"
	clipsDir  = "clips"
	audioDir  = "audio"
	buildDir  = "build"
)

// Workspace is the directory tree of one run.
type Workspace struct {
	Root  string
	RunID string
}

// New creates <root>/<runID>/{images,clips,audio,build}.
func New(root, runID string) (*Workspace, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	ws := &Workspace{Root: filepath.Join(root, runID), RunID: runID}
	for _, dir := range []string{imagesDir, clipsDir, audioDir, buildDir} {
		if err := os.MkdirAll(filepath.Join(ws.Root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
		}
	}
	return ws, nil
}

// ImagePath is the source image of beat index (1-based).
func (w *Workspace) ImagePath(index int) string {
	return filepath.Join(w.Root, imagesDir, fmt.Sprintf("img_%02d.jpg", index))
}

// WriteImage stores the raw bytes of beat index and returns the path.
func (w *Workspace) WriteImage(index int, data []byte) (string, error) {
	path := w.ImagePath(index)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image %d: %w", index, err)
	}
	return path, nil
}

func (w *Workspace) ClipPath(index int) string {
	return filepath.Join(w.Root, clipsDir, fmt.Sprintf("clip_%02d.mp4", index))
}

// VoiceLinePath is the synthesized narration line for beat index.
func (w *Workspace) VoiceLinePath(index int) string {
	return filepath.Join(w.Root, audioDir, fmt.Sprintf("line_%02d.wav", index))
}

func (w *Workspace) NarrationPath() string {
	return filepath.Join(w.Root, buildDir, "narration.wav")
}

func (w *Workspace) AvatarPath() string {
	return filepath.Join(w.Root, buildDir, "avatar.mp4")
}

func (w *Workspace) PictureLockPath() string {
	return filepath.Join(w.Root, buildDir, "video_piclock.mp4")
}

func (w *Workspace) MasterPath() string {
	return filepath.Join(w.Root, buildDir, "master.mp4")
}

func (w *Workspace) ReportPath() string {
	return filepath.Join(w.Root, buildDir, "report.json")
}

// WriteFile stores data at path inside the workspace.
func (w *Workspace) WriteFile(path string, data []byte) error {
	if !w.Contains(path) {
		return fmt.Errorf("path %s is outside workspace %s", path, w.Root)
	}
	return os.WriteFile(path, data, 0644)
}

// Contains reports whether path lies inside the workspace.
func (w *Workspace) Contains(path string) bool {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Cleanup removes the whole run directory.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Root)
}
