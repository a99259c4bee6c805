package scribe

import (
	"fmt"
	"strings"
	"time"
)

// Paragraph is one timestamped span of transcript text.
type Paragraph struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Transcript is the full timestamped transcription of one recording.
type Transcript struct {
	ID         string      `json:"id"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Text renders the transcript with [m:ss] prefixes per paragraph.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, p := range t.Paragraphs {
		fmt.Fprintf(&b, "[%s] %s\n", formatOffset(p.Start), strings.TrimSpace(p.Text))
	}
	return b.String()
}

// Slice returns the rendered text of every paragraph overlapping the
// [start, end) window, used to align transcript content with a media
// segment.
func (t Transcript) Slice(start, end time.Duration) string {
	var b strings.Builder
	for _, p := range t.Paragraphs {
		if p.End <= start || p.Start >= end {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", formatOffset(p.Start), strings.TrimSpace(p.Text))
	}
	return b.String()
}

// SliceRelative is Slice with offsets rebased to the window start, so a
// paragraph at the start of a segment renders as [0:00] regardless of where
// the segment sits in the recording.
func (t Transcript) SliceRelative(start, end time.Duration) string {
	var b strings.Builder
	for _, p := range t.Paragraphs {
		if p.End <= start || p.Start >= end {
			continue
		}
		offset := p.Start - start
		if offset < 0 {
			offset = 0
		}
		fmt.Fprintf(&b, "[%s] %s\n", formatOffset(offset), strings.TrimSpace(p.Text))
	}
	return b.String()
}

// Empty reports whether the transcript carries no usable text.
func (t Transcript) Empty() bool {
	for _, p := range t.Paragraphs {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

func formatOffset(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
