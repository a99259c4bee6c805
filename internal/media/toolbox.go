package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lectern/internal/services"
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Toolbox bundles the subprocess binaries used for media work. The command
// runner is injectable for tests.
type Toolbox struct {
	ytdlp   string
	ffmpeg  string
	ffprobe string
	run     CommandRunner
}

// NewToolbox constructs a toolbox around the configured binaries. Empty
// binary names fall back to the conventional command names.
func NewToolbox(ytdlp, ffmpeg, ffprobe string) *Toolbox {
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Toolbox{ytdlp: ytdlp, ffmpeg: ffmpeg, ffprobe: ffprobe, run: runCommand}
}

// WithRunner overrides subprocess execution (used in tests).
func (t *Toolbox) WithRunner(run CommandRunner) *Toolbox {
	if run != nil {
		t.run = run
	}
	return t
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return stdout.Bytes(), fmt.Errorf("%s: %s", name, detail)
	}
	return stdout.Bytes(), nil
}

// Fetch downloads a source into destDir and returns the probed result. Local
// paths are accepted directly without copying. Partial downloads are removed
// on failure.
func (t *Toolbox) Fetch(ctx context.Context, source, destDir string) (Info, error) {
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		return t.Probe(ctx, source)
	}

	template := filepath.Join(destDir, "recording.%(ext)s")
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", template,
		source,
	}
	if _, err := t.run(ctx, t.ytdlp, args...); err != nil {
		t.removeDownloads(destDir)
		if ctx.Err() != nil {
			return Info{}, services.Wrap(services.ErrTimeout, "fetching", "download", source, ctx.Err())
		}
		return Info{}, services.Wrap(services.ErrExternalTool, "fetching", "download", source, err)
	}

	path, err := findDownload(destDir)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "fetching", "locate download", source, err)
	}
	return t.Probe(ctx, path)
}

// Probe reads duration, size, and resolution via ffprobe JSON output.
func (t *Toolbox) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration,size",
		"-of", "json",
		path,
	}
	out, err := t.run(ctx, t.ffprobe, args...)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "fetching", "probe", path, err)
	}

	var payload struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "fetching", "parse probe output", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64)
	if err != nil || seconds <= 0 {
		return Info{}, services.Wrap(services.ErrValidation, "fetching", "probe",
			fmt.Sprintf("no usable duration for %s", path), err)
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(payload.Format.Size), 10, 64)

	info := Info{
		Path:      path,
		Duration:  time.Duration(seconds * float64(time.Second)),
		SizeBytes: size,
	}
	if len(payload.Streams) > 0 {
		info.Width = payload.Streams[0].Width
		info.Height = payload.Streams[0].Height
	}
	return info, nil
}

func findDownload(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), "recording.") && !strings.HasSuffix(entry.Name(), ".part") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no completed download in %s", dir)
}

func (t *Toolbox) removeDownloads(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "recording.") {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
