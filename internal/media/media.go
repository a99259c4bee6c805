// Package media wraps the subprocess tooling around recorded media: probing
// duration with ffprobe, fetching sources with yt-dlp, and partitioning a
// recording into bounded segments for summarization.
package media

import "time"

// Info describes a fetched recording.
type Info struct {
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
}

// Segment is one ordered, zero-indexed slice of a recording. Segments are
// contiguous, non-overlapping, and their union equals the full input.
type Segment struct {
	Index int           `json:"index"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Path  string        `json:"path,omitempty"`
}

// Length returns the segment duration.
func (s Segment) Length() time.Duration {
	return s.End - s.Start
}
