package merging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/segmenting"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/stagecache"
	"lectern/internal/summarizing"
)

// Handler runs the merge stage.
type Handler struct {
	cfg    *config.Config
	cache  *stagecache.Cache
	logger *slog.Logger
}

// New constructs the merge stage handler.
func New(cfg *config.Config, cache *stagecache.Cache, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "merger"),
	}
}

// Prepare validates the segment plan survived to this stage.
func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	_, err := segmenting.Segments(job)
	return err
}

// Execute concatenates cached segment summaries in index order, rewrites
// offset markers to absolute timestamps, and writes the final document.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	segments, err := segmenting.Segments(job)
	if err != nil {
		return err
	}

	summaries := make([]string, len(segments))
	var gaps []int
	for i, seg := range segments {
		summary, ok := summarizing.CachedSummary(h.cache, h.cfg, job, seg.Index)
		if !ok {
			if h.cfg.Summarizer.MergePolicy == config.MergePolicyPartial {
				gaps = append(gaps, seg.Index)
				summaries[i] = "_This portion of the recording could not be summarized._"
				continue
			}
			return services.Wrap(services.ErrExhausted, "merging", "collect summaries",
				fmt.Sprintf("segment %d has no cached summary", seg.Index), nil)
		}
		summaries[i] = summary
	}

	for i, seg := range segments {
		rewritten := rewriteOffsetMarkers(summaries[i], job.Source, seg.Start)
		if !job.HasSlides {
			rewritten = dropPageMarkers(rewritten)
		}
		summaries[i] = rewritten
	}
	summaries = dedupeBoilerplate(summaries)

	var doc strings.Builder
	doc.WriteString(documentTitle(job))
	doc.WriteString("\n\n")
	for i, seg := range segments {
		if len(segments) > 1 {
			doc.WriteString(segmentHeading(seg))
			doc.WriteString("\n\n")
		}
		doc.WriteString(strings.TrimSpace(summaries[i]))
		doc.WriteString("\n\n")
	}
	writeDisclosures(&doc, job, gaps)

	job.FinalDocument = strings.TrimRight(doc.String(), "\n") + "\n"
	job.SetProgress("Merging document", "document assembled", 100)

	if path, err := h.writeResultFile(job); err != nil {
		logging.WithContext(ctx, h.logger).Warn("result file write failed", logging.Error(err))
	} else {
		logging.WithContext(ctx, h.logger).Info("result written", logging.String("path", path))
	}

	h.cleanupStaging(ctx, job)
	return nil
}

func documentTitle(job *queue.Job) string {
	kind := "Lecture"
	if job.Mode == queue.ModeMeeting {
		kind = "Meeting"
	}
	return fmt.Sprintf("# %s summary\n\nSource: %s", kind, job.Source)
}

func writeDisclosures(doc *strings.Builder, job *queue.Job, gaps []int) {
	degraded := job.Degraded()
	if len(degraded) == 0 && len(gaps) == 0 && !job.SlidesTrunc {
		return
	}
	doc.WriteString("---\n\n## Notes on completeness\n\n")
	if job.SlidesTrunc {
		doc.WriteString("- The slide deck exceeded the page limit; only the leading pages were used.\n")
	}
	for _, reason := range degraded {
		fmt.Fprintf(doc, "- %s\n", reason)
	}
	for _, idx := range gaps {
		fmt.Fprintf(doc, "- Segment %d is missing from this summary.\n", idx)
	}
	doc.WriteString("\n")
}

func (h *Handler) writeResultFile(job *queue.Job) (string, error) {
	resultDir := filepath.Join(h.cfg.Paths.DataDir, "results")
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(resultDir, fmt.Sprintf("job-%d.md", job.ID))
	if err := os.WriteFile(path, []byte(job.FinalDocument), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// cleanupStaging removes the job's staging directory; cached artifacts are
// the durable record, the staged media is not needed once the document exists.
func (h *Handler) cleanupStaging(ctx context.Context, job *queue.Job) {
	stagingDir := filepath.Join(h.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := os.RemoveAll(stagingDir); err != nil {
		logging.WithContext(ctx, h.logger).Warn("staging cleanup failed",
			logging.String("dir", stagingDir), logging.Error(err))
	}
}

// HealthCheck verifies the results directory is writable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(filepath.Join(h.cfg.Paths.DataDir, "results"), 0o755); err != nil {
		return stage.Unhealthy("merger", "results directory unavailable: "+err.Error())
	}
	return stage.Healthy("merger")
}
