// Package summarizing implements the per-segment model summarization stage.
// Segments run in a bounded worker pool; every finished segment summary is
// cached immediately, so an interrupted or rate-limited job resumes without
// repeating completed segments.
package summarizing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"lectern/internal/acquiring"
	"lectern/internal/config"
	"lectern/internal/fingerprint"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/queue"
	"lectern/internal/retry"
	"lectern/internal/segmenting"
	"lectern/internal/services"
	"lectern/internal/services/model"
	"lectern/internal/services/scribe"
	"lectern/internal/stage"
	"lectern/internal/stagecache"
)

// StageSegmentSummary is the cache stage name for per-segment summaries.
const StageSegmentSummary = "segment_summary"

// maxInlineMediaBytes bounds how large a segment file we attach to a model
// request when no transcript is available.
const maxInlineMediaBytes = 64 << 20

// Generator abstracts the credential-rotating model client.
type Generator interface {
	Generate(ctx context.Context, principal string, parts ...model.Part) (string, error)
	Model() string
}

// Handler runs the summarization stage.
type Handler struct {
	cfg       *config.Config
	cache     *stagecache.Cache
	generator Generator
	retry     *retry.Controller
	logger    *slog.Logger
}

// New constructs the summarization stage handler.
func New(cfg *config.Config, cache *stagecache.Cache, generator Generator, logger *slog.Logger) *Handler {
	policy := retry.Policy{MaxAttempts: cfg.Summarizer.MaxAttempts}
	return &Handler{
		cfg:       cfg,
		cache:     cache,
		generator: generator,
		retry:     retry.New(policy, logger),
		logger:    logging.NewComponentLogger(logger, "summarizer"),
	}
}

// WithRetry overrides the retry controller (used in tests).
func (h *Handler) WithRetry(controller *retry.Controller) *Handler {
	if controller != nil {
		h.retry = controller
	}
	return h
}

// ParamFP is the parameter fingerprint segment summaries are cached under.
// Any change to the model, prompt version, or job mode invalidates them.
func ParamFP(cfg *config.Config, mode string) string {
	return fingerprint.Params(cfg.Summarizer.Model, cfg.Summarizer.PromptVersion, mode)
}

// Prepare validates the segment plan exists.
func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	_, err := segmenting.Segments(job)
	return err
}

type segmentResult struct {
	index   int
	outcome retry.Outcome
}

// Execute summarizes every segment not already cached, a bounded number at a
// time. It returns nil once every segment has a cached summary (or, under the
// partial merge policy, a recorded gap).
func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	segments, err := segmenting.Segments(job)
	if err != nil {
		return err
	}
	paramFP := ParamFP(h.cfg, job.Mode)
	logger := logging.WithContext(ctx, h.logger)

	var transcript scribe.Transcript
	if job.HasTranscript {
		if !h.cache.GetInto(acquiring.StageTranscribe, job.ContentFP, acquiring.TranscriptParamFP(h.cfg), &transcript) {
			// Transcript evicted since acquisition; fall back to raw media.
			job.HasTranscript = false
			job.AddDegraded("transcript cache entry lost before summarization")
		}
	}
	var deck acquiring.SlideDeck
	if job.HasSlides && job.SlideSource != "" {
		if !h.cache.GetInto(acquiring.StageSlides, fingerprint.Content(job.SlideSource), acquiring.SlideParamFP(h.cfg), &deck) {
			job.HasSlides = false
			job.AddDegraded("slide cache entry expired before summarization")
		}
	}

	pending := make([]media.Segment, 0, len(segments))
	for _, seg := range segments {
		if _, ok := h.cache.Get(StageSegmentSummary, fingerprint.Segment(job.ContentFP, seg.Index), paramFP); !ok {
			pending = append(pending, seg)
		}
	}
	if len(pending) == 0 {
		job.SetProgress("Summarizing segments", "all segments cached", 100)
		return nil
	}
	logger.Info("summarizing segments",
		logging.Int("total", len(segments)),
		logging.Int("cached", len(segments)-len(pending)),
		logging.String("model", h.generator.Model()),
	)

	workerCount := h.cfg.Workflow.SegmentWorkers
	if workerCount < 1 {
		workerCount = 1
	}
	sem := make(chan struct{}, workerCount)
	results := make([]segmentResult, len(pending))
	var wg sync.WaitGroup
	for i, seg := range pending {
		wg.Add(1)
		go func(slot int, seg media.Segment) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[slot] = segmentResult{index: seg.Index, outcome: retry.Outcome{Kind: retry.Cancelled, Err: ctx.Err()}}
				return
			}
			results[slot] = segmentResult{
				index:   seg.Index,
				outcome: h.summarizeSegment(ctx, job, seg, len(segments), transcript, deck, paramFP),
			}
		}(i, seg)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return h.resolveOutcomes(job, results)
}

func (h *Handler) summarizeSegment(ctx context.Context, job *queue.Job, seg media.Segment, total int, transcript scribe.Transcript, deck acquiring.SlideDeck, paramFP string) retry.Outcome {
	segCtx := services.WithSegment(ctx, seg.Index)

	var transcriptSlice string
	if job.HasTranscript {
		transcriptSlice = transcript.SliceRelative(seg.Start, seg.End)
	}
	prompt := buildPrompt(job, seg.Index, total, seg.Length(), transcriptSlice, deck.Markdown)

	parts := []model.Part{model.TextPart(prompt)}
	if transcriptSlice == "" {
		data, loadErr := loadSegmentMedia(seg.Path)
		if loadErr != nil {
			return retry.Outcome{Kind: retry.Fatal, Reason: loadErr.Error(), Err: loadErr}
		}
		parts = append(parts, data)
	}

	outcome := h.retry.Invoke(segCtx, retry.Options{Stage: "summarize"}, func(ctx context.Context) error {
		out, err := h.generator.Generate(ctx, job.Principal, parts...)
		if err != nil {
			return err
		}
		segFP := fingerprint.Segment(job.ContentFP, seg.Index)
		if putErr := h.cache.Put(StageSegmentSummary, segFP, paramFP, strings.TrimSpace(out), 0); putErr != nil {
			return services.Wrap(services.ErrTransient, "summarizing", "cache summary", "persist segment summary", putErr)
		}
		return nil
	})
	return outcome
}

func loadSegmentMedia(path string) (model.Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Part{}, services.Wrap(services.ErrNotFound, "summarizing", "load segment",
			fmt.Sprintf("segment file %s missing", path), err)
	}
	if info.Size() > maxInlineMediaBytes {
		return model.Part{}, services.Wrap(services.ErrValidation, "summarizing", "load segment",
			fmt.Sprintf("segment file %s too large to attach without a transcript", path), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Part{}, services.Wrap(services.ErrTransient, "summarizing", "load segment", "read segment file", err)
	}
	return model.DataPart(data, "video/mp4"), nil
}

// resolveOutcomes aggregates per-segment outcomes into one stage result.
// Operator escalation wins over fatal segments: cached partials make the
// retry cheap, so the job is always offered a way forward first.
func (h *Handler) resolveOutcomes(job *queue.Job, results []segmentResult) error {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var blocked, fatal []segmentResult
	for _, res := range results {
		switch res.outcome.Kind {
		case retry.Success, retry.Degraded:
		case retry.NeedsOperator:
			blocked = append(blocked, res)
		case retry.Cancelled:
			return res.outcome.Err
		default:
			fatal = append(fatal, res)
		}
	}

	if len(blocked) > 0 {
		first := blocked[0]
		reason := fmt.Sprintf("segment %d blocked after %d attempts: %s",
			first.index, first.outcome.Attempts, first.outcome.Reason)
		if len(blocked) > 1 {
			reason = fmt.Sprintf("%s (+%d more segments)", reason, len(blocked)-1)
		}
		return services.Wrap(services.ErrExhausted, "summarizing", "summarize segments", reason, first.outcome.Err)
	}

	if len(fatal) > 0 {
		first := fatal[0]
		if h.cfg.Summarizer.MergePolicy == config.MergePolicyPartial {
			for _, res := range fatal {
				job.AddDegraded(fmt.Sprintf("segment %d summary failed: %s", res.index, res.outcome.Reason))
			}
		} else {
			reason := fmt.Sprintf("segment %d failed permanently: %s", first.index, first.outcome.Reason)
			return services.Wrap(services.ErrExhausted, "summarizing", "summarize segments", reason, first.outcome.Err)
		}
	}

	job.SetProgress("Summarizing segments", "segments summarized", 100)
	return nil
}

// HealthCheck verifies the cache directory is writable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(h.cfg.Paths.CacheDir, 0o755); err != nil {
		return stage.Unhealthy("summarizer", "cache directory unavailable: "+err.Error())
	}
	if h.generator == nil {
		return stage.Unhealthy("summarizer", "model generator not configured")
	}
	return stage.Healthy("summarizer")
}

// CachedSummary reads one segment's summary back from the cache.
func CachedSummary(cache *stagecache.Cache, cfg *config.Config, job *queue.Job, index int) (string, bool) {
	var summary string
	ok := cache.GetInto(StageSegmentSummary, fingerprint.Segment(job.ContentFP, index), ParamFP(cfg, job.Mode), &summary)
	return summary, ok
}
