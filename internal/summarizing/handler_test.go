package summarizing

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lectern/internal/acquiring"
	"lectern/internal/config"
	"lectern/internal/fingerprint"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/queue"
	"lectern/internal/retry"
	"lectern/internal/services"
	"lectern/internal/services/model"
	"lectern/internal/services/scribe"
	"lectern/internal/stagecache"
	"lectern/internal/testsupport"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	fn      func(prompt string) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, parts ...model.Part) (string, error) {
	g.mu.Lock()
	prompt := parts[0].Text
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(prompt)
	}
	return "summary of: " + prompt[:20], nil
}

func (g *fakeGenerator) Model() string { return "fake-model" }

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHandler(t *testing.T, cfg *config.Config, gen Generator) (*Handler, *stagecache.Cache) {
	t.Helper()
	cache := stagecache.New(cfg.Paths.CacheDir, logging.NewNop())
	h := New(cfg, cache, gen, logging.NewNop())
	h.WithRetry(retry.New(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, logging.NewNop()).WithSleeper(noSleep))
	return h, cache
}

func seedSegments(t *testing.T, job *queue.Job, count int, length time.Duration) []media.Segment {
	t.Helper()
	segments := make([]media.Segment, count)
	for i := range segments {
		segments[i] = media.Segment{
			Index: i,
			Start: time.Duration(i) * length,
			End:   time.Duration(i+1) * length,
		}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		t.Fatalf("marshal segments: %v", err)
	}
	job.SegmentsJSON = string(data)
	return segments
}

func seedTranscript(t *testing.T, cache *stagecache.Cache, cfg *config.Config, job *queue.Job, segments []media.Segment) {
	t.Helper()
	transcript := scribe.Transcript{ID: "tr-1"}
	for _, seg := range segments {
		transcript.Paragraphs = append(transcript.Paragraphs, scribe.Paragraph{
			Start: seg.Start + time.Second,
			End:   seg.Start + 2*time.Second,
			Text:  "spoken content for segment",
		})
	}
	if err := cache.Put(acquiring.StageTranscribe, job.ContentFP, acquiring.TranscriptParamFP(cfg), transcript, 0); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}
	job.HasTranscript = true
}

func TestExecuteSummarizesAndCaches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 3, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 2, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gen.calls() != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls())
	}
	for i := range segments {
		if _, ok := CachedSummary(cache, cfg, job, i); !ok {
			t.Fatalf("segment %d summary not cached", i)
		}
	}
	if job.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want 100", job.ProgressPercent)
	}
}

func TestExecutePromptsCarrySegmentContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 4, Mode: queue.ModeMeeting, ContentFP: "file:rec.mp4:99"}
	segments := seedSegments(t, job, 2, 10*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawFirst, sawSecond bool
	for _, prompt := range gen.prompts {
		if !strings.Contains(prompt, "recorded meeting") {
			t.Fatalf("prompt missing meeting preamble:\n%s", prompt)
		}
		if !strings.Contains(prompt, "[-Ns-]") {
			t.Fatalf("prompt missing marker instructions:\n%s", prompt)
		}
		if !strings.Contains(prompt, "--- TRANSCRIPT") {
			t.Fatalf("prompt missing transcript section:\n%s", prompt)
		}
		if strings.Contains(prompt, "part 1 of 2") {
			sawFirst = true
		}
		if strings.Contains(prompt, "part 2 of 2") {
			sawSecond = true
		}
	}
	if !sawFirst || !sawSecond {
		t.Fatalf("prompts missing part numbering: first=%v second=%v", sawFirst, sawSecond)
	}
}

func TestExecuteIncludesSlides(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{
		ID:          5,
		Mode:        queue.ModeLecture,
		ContentFP:   "yt:abc123def45",
		SlideSource: "/tmp/deck.pdf",
		HasSlides:   true,
	}
	segments := seedSegments(t, job, 1, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)
	deck := acquiring.SlideDeck{Markdown: "## Page 1\nEntropy definitions", Pages: 1}
	if err := cache.Put(acquiring.StageSlides, fingerprint.Content(job.SlideSource), acquiring.SlideParamFP(cfg), deck, 0); err != nil {
		t.Fatalf("seed slides: %v", err)
	}

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(gen.prompts[0], "--- SLIDES ---") {
		t.Fatalf("prompt missing slide section:\n%s", gen.prompts[0])
	}
	if !strings.Contains(gen.prompts[0], "Entropy definitions") {
		t.Fatalf("prompt missing slide text:\n%s", gen.prompts[0])
	}
}

func TestExecuteSkipsCachedSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 6, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 3, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	paramFP := ParamFP(cfg, job.Mode)
	if err := cache.Put(StageSegmentSummary, fingerprint.Segment(job.ContentFP, 0), paramFP, "already done", 0); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gen.calls() != 2 {
		t.Fatalf("generator calls = %d, want 2 (segment 0 cached)", gen.calls())
	}
	if got, _ := CachedSummary(cache, cfg, job, 0); got != "already done" {
		t.Fatalf("cached summary overwritten: %q", got)
	}
}

func TestExecuteAllCachedIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 7, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	seedSegments(t, job, 2, 20*time.Minute)
	paramFP := ParamFP(cfg, job.Mode)
	for i := 0; i < 2; i++ {
		if err := cache.Put(StageSegmentSummary, fingerprint.Segment(job.ContentFP, i), paramFP, "done", 0); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gen.calls() != 0 {
		t.Fatalf("generator called %d times for fully cached job", gen.calls())
	}
	if job.ProgressMessage != "all segments cached" {
		t.Fatalf("progress message = %q", job.ProgressMessage)
	}
}

func TestExecuteRateLimitCeilingEscalates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{fn: func(string) (string, error) {
		return "", services.NewRateLimit("model", "generate", time.Second, errors.New("429"))
	}}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 8, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 1, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	err := h.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !strings.Contains(err.Error(), "segment 0 blocked after 2 attempts") {
		t.Fatalf("err = %v, want blocked-segment detail", err)
	}
}

func TestExecuteCredentialExhaustionEscalates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{fn: func(string) (string, error) {
		return "", services.Wrap(services.ErrExhausted, "model", "generate", "every credential cooling", nil)
	}}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 9, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 1, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	err := h.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if gen.calls() != 1 {
		t.Fatalf("generator calls = %d, want 1 (no retry on exhausted pool)", gen.calls())
	}
}

func TestExecuteFatalSegmentBlocksByDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{fn: func(string) (string, error) {
		return "", services.Wrap(services.ErrValidation, "model", "generate", "prompt rejected", nil)
	}}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 10, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 1, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	err := h.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted under block policy", err)
	}
	if !strings.Contains(err.Error(), "failed permanently") {
		t.Fatalf("err = %v, want permanent-failure detail", err)
	}
}

func TestExecuteFatalSegmentDegradesUnderPartialPolicy(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMergePolicy(config.MergePolicyPartial))
	gen := &fakeGenerator{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "part 2 of 2") {
			return "", services.Wrap(services.ErrValidation, "model", "generate", "prompt rejected", nil)
		}
		return "fine", nil
	}}
	h, cache := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 11, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45"}
	segments := seedSegments(t, job, 2, 20*time.Minute)
	seedTranscript(t, cache, cfg, job, segments)

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	degraded := job.Degraded()
	var noted bool
	for _, reason := range degraded {
		if strings.Contains(reason, "segment 1 summary failed") {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("degraded = %v, want segment 1 failure note", degraded)
	}
	if _, ok := CachedSummary(cache, cfg, job, 0); !ok {
		t.Fatal("successful segment should still be cached")
	}
}

func TestExecuteTranscriptCacheLossFallsBackToMedia(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gen := &fakeGenerator{}
	h, _ := newHandler(t, cfg, gen)

	job := &queue.Job{ID: 12, Mode: queue.ModeLecture, ContentFP: "yt:abc123def45", HasTranscript: true}
	segments := seedSegments(t, job, 1, 20*time.Minute)

	// No transcript cached. The handler degrades and attaches raw media.
	mediaPath := filepath.Join(cfg.Paths.StagingDir, "seg-0.mp4")
	testsupport.WriteFile(t, mediaPath, 2048)
	segments[0].Path = mediaPath
	data, err := json.Marshal(segments)
	if err != nil {
		t.Fatalf("marshal segments: %v", err)
	}
	job.SegmentsJSON = string(data)

	if err := h.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if job.HasTranscript {
		t.Fatal("HasTranscript should be cleared after cache loss")
	}
	var noted bool
	for _, reason := range job.Degraded() {
		if strings.Contains(reason, "transcript cache entry lost") {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("degraded = %v, want transcript-loss note", job.Degraded())
	}
	if !strings.Contains(gen.prompts[0], "No transcript is available") {
		t.Fatalf("prompt should note missing transcript:\n%s", gen.prompts[0])
	}
}

func TestPrepareRequiresSegmentPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h, _ := newHandler(t, cfg, &fakeGenerator{})
	err := h.Prepare(context.Background(), &queue.Job{ID: 1})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestParamFPChangesWithModelAndMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := ParamFP(cfg, queue.ModeLecture)
	if got := ParamFP(cfg, queue.ModeMeeting); got == base {
		t.Fatal("mode change should alter the parameter fingerprint")
	}
	cfg.Summarizer.Model = "some-other-model"
	if got := ParamFP(cfg, queue.ModeLecture); got == base {
		t.Fatal("model change should alter the parameter fingerprint")
	}
}
