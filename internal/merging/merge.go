// Package merging assembles the final document from cached segment
// summaries. Merging is deterministic: the same cached summaries always
// produce byte-identical output, so re-running the stage is safe.
package merging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"lectern/internal/fingerprint"
	"lectern/internal/media"
)

var (
	offsetMarkerPattern = regexp.MustCompile(`\[-(\d+)s-\]`)
	pageMarkerPattern   = regexp.MustCompile(`\s?\[page \d+\]`)
)

// rewriteOffsetMarkers replaces every relative [-Ns-] marker in a segment
// summary with an absolute [h:mm:ss] stamp (linked for YouTube sources).
func rewriteOffsetMarkers(summary, source string, segmentStart time.Duration) string {
	ytID, isYouTube := fingerprint.ExtractYouTubeID(source)
	return offsetMarkerPattern.ReplaceAllStringFunc(summary, func(marker string) string {
		match := offsetMarkerPattern.FindStringSubmatch(marker)
		seconds, err := strconv.Atoi(match[1])
		if err != nil || seconds < 0 {
			return marker
		}
		absolute := segmentStart + time.Duration(seconds)*time.Second
		stamp := formatStamp(absolute)
		if isYouTube {
			return fmt.Sprintf("[%s](https://youtu.be/%s?t=%d)", stamp, ytID, int(absolute.Seconds()))
		}
		return "[" + stamp + "]"
	})
}

func formatStamp(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// dropPageMarkers removes [page N] citations; used when the job had no slide
// input so the citations point at nothing.
func dropPageMarkers(summary string) string {
	return pageMarkerPattern.ReplaceAllString(summary, "")
}

var foldCaser = cases.Fold()

func normalizeLine(line string) string {
	return foldCaser.String(strings.Join(strings.Fields(line), " "))
}

// dedupeBoilerplate strips lines at the head and tail of each summary after
// the first that already appeared at the head or tail of an earlier one.
// Models tend to repeat the same framing ("These notes cover...") per
// segment; inner content is never touched.
func dedupeBoilerplate(summaries []string) []string {
	const edgeWindow = 3

	seen := make(map[string]struct{})
	recordEdges := func(lines []string) {
		for i, line := range lines {
			if i >= edgeWindow && i < len(lines)-edgeWindow {
				continue
			}
			if norm := normalizeLine(line); norm != "" {
				seen[norm] = struct{}{}
			}
		}
	}

	out := make([]string, len(summaries))
	for idx, summary := range summaries {
		lines := strings.Split(summary, "\n")
		if idx == 0 {
			recordEdges(lines)
			out[idx] = summary
			continue
		}

		start := 0
		for start < len(lines) && start < edgeWindow {
			norm := normalizeLine(lines[start])
			if norm == "" {
				start++
				continue
			}
			if _, dup := seen[norm]; !dup {
				break
			}
			start++
		}
		end := len(lines)
		for end > start && len(lines)-end < edgeWindow {
			norm := normalizeLine(lines[end-1])
			if norm == "" {
				end--
				continue
			}
			if _, dup := seen[norm]; !dup {
				break
			}
			end--
		}

		trimmed := lines[start:end]
		recordEdges(trimmed)
		out[idx] = strings.TrimSpace(strings.Join(trimmed, "\n"))
	}
	return out
}

// segmentHeading renders the section heading for one segment's span.
func segmentHeading(seg media.Segment) string {
	return fmt.Sprintf("## %s – %s", formatStamp(seg.Start), formatStamp(seg.End))
}
