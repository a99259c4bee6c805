package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lectern/internal/services"
)

// Split partitions a recording of the given duration into segments no longer
// than ceiling. Pure function of its inputs: the result is deterministic,
// contiguous, non-overlapping, sums exactly to duration, and always contains
// at least one segment.
func Split(duration, ceiling time.Duration) []Segment {
	if duration < 0 {
		duration = 0
	}
	if ceiling <= 0 || duration <= ceiling {
		return []Segment{{Index: 0, Start: 0, End: duration}}
	}

	count := int(duration / ceiling)
	if duration%ceiling != 0 {
		count++
	}
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * ceiling
		end := start + ceiling
		if end > duration {
			end = duration
		}
		segments = append(segments, Segment{Index: i, Start: start, End: end})
	}
	return segments
}

// CutSegments produces one media file per segment using ffmpeg stream copy
// (no re-encode). Segment files land in destDir and segment Paths are filled
// in on the returned copy. Partial outputs are removed on failure.
func (t *Toolbox) CutSegments(ctx context.Context, source string, segments []Segment, destDir string) ([]Segment, error) {
	if len(segments) == 1 && segments[0].Start == 0 {
		out := segments[0]
		out.Path = source
		return []Segment{out}, nil
	}

	base := filepath.Base(source)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		dest := filepath.Join(destDir, fmt.Sprintf("%s_seg%03d%s", stem, seg.Index, ext))
		args := []string{
			"-y",
			"-ss", formatSeconds(seg.Start),
			"-i", source,
			"-t", formatSeconds(seg.Length()),
			"-c", "copy",
			dest,
		}
		if _, err := t.run(ctx, t.ffmpeg, args...); err != nil {
			for _, done := range out {
				_ = os.Remove(done.Path)
			}
			return nil, services.Wrap(services.ErrExternalTool, "splitting", "cut segment",
				fmt.Sprintf("segment %d", seg.Index), err)
		}
		seg.Path = dest
		out = append(out, seg)
	}
	return out, nil
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
