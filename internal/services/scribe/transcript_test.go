package scribe

import (
	"strings"
	"testing"
	"time"
)

func sampleTranscript() Transcript {
	return Transcript{
		ID: "t1",
		Paragraphs: []Paragraph{
			{Start: 0, End: 30 * time.Second, Text: "Welcome to the lecture."},
			{Start: 19 * time.Minute, End: 21 * time.Minute, Text: "This paragraph straddles the boundary."},
			{Start: 25 * time.Minute, End: 26 * time.Minute, Text: "Deep in the second segment."},
		},
	}
}

func TestSliceIncludesOverlappingParagraphs(t *testing.T) {
	tr := sampleTranscript()
	got := tr.Slice(20*time.Minute, 40*time.Minute)
	if strings.Contains(got, "Welcome") {
		t.Fatalf("paragraph before window included:\n%s", got)
	}
	if !strings.Contains(got, "straddles the boundary") {
		t.Fatalf("boundary paragraph must be included:\n%s", got)
	}
	if !strings.Contains(got, "[25:00] Deep in the second segment.") {
		t.Fatalf("absolute offsets expected:\n%s", got)
	}
}

func TestSliceRelativeRebasesOffsets(t *testing.T) {
	tr := sampleTranscript()
	got := tr.SliceRelative(20*time.Minute, 40*time.Minute)
	// The straddling paragraph starts before the window; it clamps to 0:00.
	if !strings.Contains(got, "[0:00] This paragraph straddles") {
		t.Fatalf("straddling paragraph should clamp to window start:\n%s", got)
	}
	if !strings.Contains(got, "[5:00] Deep in the second segment.") {
		t.Fatalf("offsets must be relative to window start:\n%s", got)
	}
}

func TestTextRendersAllParagraphs(t *testing.T) {
	tr := sampleTranscript()
	got := tr.Text()
	if len(strings.Split(strings.TrimSpace(got), "\n")) != 3 {
		t.Fatalf("expected 3 lines:\n%s", got)
	}
	if !strings.HasPrefix(got, "[0:00] Welcome") {
		t.Fatalf("first line = %q", got)
	}
}

func TestEmpty(t *testing.T) {
	if !(Transcript{}).Empty() {
		t.Fatalf("zero transcript should be empty")
	}
	if !(Transcript{Paragraphs: []Paragraph{{Text: "   "}}}).Empty() {
		t.Fatalf("whitespace-only transcript should be empty")
	}
	if sampleTranscript().Empty() {
		t.Fatalf("sample transcript should not be empty")
	}
}

func TestFormatOffsetHours(t *testing.T) {
	if got := formatOffset(time.Hour + 75*time.Second); got != "1:01:15" {
		t.Fatalf("formatOffset = %q", got)
	}
}
