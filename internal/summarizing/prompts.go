package summarizing

import (
	"fmt"
	"strings"
	"time"

	"lectern/internal/queue"
)

const markerInstructions = "When you reference a moment in the recording, tag it as [-Ns-] where N " +
	"is the whole number of seconds from the START OF THIS SEGMENT. Example: " +
	"[-90s-] for a point ninety seconds in. Use the tags sparingly, on key moments only."

const slideInstructions = "Slide text from the accompanying deck is included below. When a topic " +
	"matches a slide, cite it inline as [page N] using the page numbers given."

func lecturePreamble(index, total int) string {
	return fmt.Sprintf("You are summarizing part %d of %d of a recorded lecture. "+
		"Produce detailed markdown notes a student could revise from: key concepts, "+
		"definitions, worked examples, and anything flagged as exam-relevant. "+
		"Do not add an overall introduction or conclusion; this is one part of a larger document.",
		index+1, total)
}

func meetingPreamble(index, total int) string {
	return fmt.Sprintf("You are summarizing part %d of %d of a recorded meeting. "+
		"Produce markdown minutes: decisions made, action items with owners, open "+
		"questions, and discussion context. "+
		"Do not add an overall introduction or conclusion; this is one part of a larger document.",
		index+1, total)
}

// buildPrompt assembles the per-segment instruction block. transcriptSlice and
// slideText are empty when the corresponding input is unavailable.
func buildPrompt(job *queue.Job, index, total int, segmentLength time.Duration, transcriptSlice, slideText string) string {
	var b strings.Builder
	if job.Mode == queue.ModeMeeting {
		b.WriteString(meetingPreamble(index, total))
	} else {
		b.WriteString(lecturePreamble(index, total))
	}
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("This segment covers %s of material.\n\n", segmentLength.Round(time.Second)))
	b.WriteString(markerInstructions)

	if slideText != "" {
		b.WriteString("\n\n")
		b.WriteString(slideInstructions)
		b.WriteString("\n\n--- SLIDES ---\n")
		b.WriteString(slideText)
	}

	if transcriptSlice != "" {
		b.WriteString("\n\n--- TRANSCRIPT (timestamps relative to segment start) ---\n")
		b.WriteString(transcriptSlice)
	} else {
		b.WriteString("\n\nNo transcript is available; summarize from the attached recording directly.")
	}
	return b.String()
}
