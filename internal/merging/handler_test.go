package merging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/fingerprint"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stagecache"
	"lectern/internal/summarizing"
	"lectern/internal/testsupport"
)

func seedJob(t *testing.T, cfg *config.Config, segments []media.Segment) *queue.Job {
	t.Helper()
	data, err := json.Marshal(segments)
	if err != nil {
		t.Fatalf("marshal segments: %v", err)
	}
	return &queue.Job{
		ID:           7,
		Source:       "https://youtu.be/dQw4w9WgXcQ",
		Mode:         queue.ModeLecture,
		Status:       queue.StatusMerging,
		ContentFP:    "yt:dQw4w9WgXcQ",
		SegmentsJSON: string(data),
	}
}

func seedSummary(t *testing.T, cache *stagecache.Cache, cfg *config.Config, job *queue.Job, index int, summary string) {
	t.Helper()
	segFP := fingerprint.Segment(job.ContentFP, index)
	if err := cache.Put(summarizing.StageSegmentSummary, segFP, summarizing.ParamFP(cfg, job.Mode), summary, 0); err != nil {
		t.Fatalf("seed summary %d: %v", index, err)
	}
}

func TestExecuteAssemblesDocumentInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{
		{Index: 0, Start: 0, End: 20 * time.Minute},
		{Index: 1, Start: 20 * time.Minute, End: 35 * time.Minute},
	}
	job := seedJob(t, cfg, segments)
	seedSummary(t, cache, cfg, job, 0, "First segment covers the setup [-60s-].")
	seedSummary(t, cache, cfg, job, 1, "Second segment proves the claim [-30s-].")

	h := New(cfg, cache, logging.NewNop())
	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	doc := job.FinalDocument
	if !strings.HasPrefix(doc, "# Lecture summary") {
		t.Fatalf("document title missing:\n%s", doc)
	}
	firstIdx := strings.Index(doc, "First segment")
	secondIdx := strings.Index(doc, "Second segment")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Fatalf("segments out of order:\n%s", doc)
	}
	if !strings.Contains(doc, "## 0:00 – 20:00") || !strings.Contains(doc, "## 20:00 – 35:00") {
		t.Fatalf("segment headings missing:\n%s", doc)
	}
	// Markers rewritten against each segment's own start, linked for YouTube.
	if !strings.Contains(doc, "[1:00](https://youtu.be/dQw4w9WgXcQ?t=60)") {
		t.Fatalf("first segment marker not rewritten:\n%s", doc)
	}
	if !strings.Contains(doc, "[20:30](https://youtu.be/dQw4w9WgXcQ?t=1230)") {
		t.Fatalf("second segment marker not offset by segment start:\n%s", doc)
	}

	resultPath := filepath.Join(cfg.Paths.DataDir, "results", "job-7.md")
	if _, err := os.Stat(resultPath); err != nil {
		t.Fatalf("result file not written: %v", err)
	}
}

func TestExecuteDropsPageMarkersWithoutSlides(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{{Index: 0, Start: 0, End: 10 * time.Minute}}
	job := seedJob(t, cfg, segments)
	job.HasSlides = false
	seedSummary(t, cache, cfg, job, 0, "The lemma [page 4] is central.")

	h := New(cfg, cache, logging.NewNop())
	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(job.FinalDocument, "[page") {
		t.Fatalf("page markers must be dropped without slide input:\n%s", job.FinalDocument)
	}
}

func TestExecuteMissingSummaryBlocksByDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{
		{Index: 0, Start: 0, End: 10 * time.Minute},
		{Index: 1, Start: 10 * time.Minute, End: 20 * time.Minute},
	}
	job := seedJob(t, cfg, segments)
	seedSummary(t, cache, cfg, job, 0, "Only the first segment exists.")

	h := New(cfg, cache, logging.NewNop())
	err := h.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestExecutePartialPolicyFlagsGaps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMergePolicy(config.MergePolicyPartial))
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{
		{Index: 0, Start: 0, End: 10 * time.Minute},
		{Index: 1, Start: 10 * time.Minute, End: 20 * time.Minute},
	}
	job := seedJob(t, cfg, segments)
	seedSummary(t, cache, cfg, job, 0, "Surviving segment.")

	h := New(cfg, cache, logging.NewNop())
	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc := job.FinalDocument
	if !strings.Contains(doc, "could not be summarized") {
		t.Fatalf("gap placeholder missing:\n%s", doc)
	}
	if !strings.Contains(doc, "Notes on completeness") || !strings.Contains(doc, "Segment 1 is missing") {
		t.Fatalf("gap disclosure missing:\n%s", doc)
	}
}

func TestExecuteDisclosesDegradedInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{{Index: 0, Start: 0, End: 10 * time.Minute}}
	job := seedJob(t, cfg, segments)
	job.SlidesTrunc = true
	job.AddDegraded("transcription unavailable; summaries derived from raw media")
	seedSummary(t, cache, cfg, job, 0, "Body.")

	h := New(cfg, cache, logging.NewNop())
	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc := job.FinalDocument
	if !strings.Contains(doc, "page limit") {
		t.Fatalf("truncation disclosure missing:\n%s", doc)
	}
	if !strings.Contains(doc, "transcription unavailable") {
		t.Fatalf("degradation disclosure missing:\n%s", doc)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	segments := []media.Segment{
		{Index: 0, Start: 0, End: 10 * time.Minute},
		{Index: 1, Start: 10 * time.Minute, End: 20 * time.Minute},
	}
	job := seedJob(t, cfg, segments)
	seedSummary(t, cache, cfg, job, 0, "Shared intro.\nBody one.")
	seedSummary(t, cache, cfg, job, 1, "Shared intro.\nBody two.")

	h := New(cfg, cache, logging.NewNop())
	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	first := job.FinalDocument

	job2 := seedJob(t, cfg, segments)
	if err := h.Execute(context.Background(), job2); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if job2.FinalDocument != first {
		t.Fatalf("merge must be deterministic for identical cached summaries")
	}
}
