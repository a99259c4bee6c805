package acquiring

import (
	"strconv"
	"time"

	"lectern/internal/config"
	"lectern/internal/fingerprint"
)

// Cache stage names for acquisition artifacts. Downstream stages read the
// transcript and slide deck back out of the stage cache under these names.
const (
	StageMediaFetch = "media_fetch"
	StageTranscribe = "transcription"
	StageSlides     = "slide_extraction"
)

// MediaArtifact records where a fetched recording lives and what the probe
// reported about it.
type MediaArtifact struct {
	Path       string `json:"path"`
	DurationMS int64  `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Duration returns the probed media duration.
func (a MediaArtifact) Duration() time.Duration {
	return time.Duration(a.DurationMS) * time.Millisecond
}

// SlideDeck is the extracted text of a slide source, bounded to the
// configured page ceiling.
type SlideDeck struct {
	Markdown  string `json:"markdown"`
	Pages     int    `json:"pages"`
	Truncated bool   `json:"truncated"`
}

// MediaParamFP is the parameter fingerprint media artifacts are cached under.
func MediaParamFP() string {
	return fingerprint.Params("yt-dlp", "v1")
}

// TranscriptParamFP is the parameter fingerprint transcripts are cached under.
func TranscriptParamFP(cfg *config.Config) string {
	return fingerprint.Params(cfg.Transcriber.BaseURL, "v1")
}

// SlideParamFP is the parameter fingerprint slide decks are cached under.
func SlideParamFP(cfg *config.Config) string {
	return fingerprint.Params(cfg.Slides.Model, strconv.Itoa(cfg.Slides.MaxPages))
}
