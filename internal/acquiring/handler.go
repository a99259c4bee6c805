package acquiring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"lectern/internal/config"
	"lectern/internal/fingerprint"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/queue"
	"lectern/internal/retry"
	"lectern/internal/services"
	"lectern/internal/services/scribe"
	"lectern/internal/stage"
	"lectern/internal/stagecache"
)

// MediaFetcher downloads or probes the job's recording.
type MediaFetcher interface {
	Fetch(ctx context.Context, source, destDir string) (media.Info, error)
	Probe(ctx context.Context, path string) (media.Info, error)
}

// Transcriber produces a timestamped transcript for a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (scribe.Transcript, error)
}

// SlideExtractor turns a slide source into bounded markdown text.
type SlideExtractor interface {
	Extract(ctx context.Context, principal, source string) (SlideDeck, error)
}

// Handler acquires every input a job needs: the recording itself (required),
// its transcript, and its slide deck (both optional, degrading on failure).
type Handler struct {
	cfg         *config.Config
	cache       *stagecache.Cache
	fetcher     MediaFetcher
	transcriber Transcriber
	slides      SlideExtractor
	retry       *retry.Controller
	logger      *slog.Logger
}

// New constructs the acquisition stage handler.
func New(cfg *config.Config, cache *stagecache.Cache, fetcher MediaFetcher, transcriber Transcriber, slides SlideExtractor, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:         cfg,
		cache:       cache,
		fetcher:     fetcher,
		transcriber: transcriber,
		slides:      slides,
		retry:       retry.New(retry.DefaultPolicy(), logger),
		logger:      logging.NewComponentLogger(logger, "acquirer"),
	}
}

// WithRetry overrides the retry controller (used in tests).
func (h *Handler) WithRetry(controller *retry.Controller) *Handler {
	if controller != nil {
		h.retry = controller
	}
	return h
}

// Prepare derives the job's content fingerprint before any work starts.
func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	if job.ContentFP == "" {
		job.ContentFP = fingerprint.Content(job.Source)
	}
	return nil
}

// Execute fetches the media, then gathers the transcript and slide deck.
// Slide extraction runs concurrently with the fetch/transcribe chain; the
// transcript needs the fetched file, so it waits on the fetch.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	stagingDir := filepath.Join(h.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "acquiring", "create staging dir", "staging directory unavailable", err)
	}

	logger := logging.WithContext(ctx, h.logger)

	var (
		wg         sync.WaitGroup
		mediaArt   MediaArtifact
		mediaOut   retry.Outcome
		transcript scribe.Transcript
		transOut   retry.Outcome
		deck       SlideDeck
		deckOut    retry.Outcome
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		mediaArt, mediaOut = h.fetchMedia(ctx, job, stagingDir)
		if mediaOut.Kind != retry.Success {
			return
		}
		transcript, transOut = h.transcribe(ctx, job, mediaArt.Path)
	}()

	if job.SlideSource != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deck, deckOut = h.extractSlides(ctx, job)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch mediaOut.Kind {
	case retry.Success:
	case retry.Cancelled:
		return mediaOut.Err
	case retry.NeedsOperator:
		return services.Wrap(services.ErrExhausted, "acquiring", "fetch media", mediaOut.Reason, mediaOut.Err)
	default:
		h.cleanupStaging(stagingDir)
		return mediaOut.Err
	}

	job.MediaPath = mediaArt.Path
	job.MediaDuration = mediaArt.Duration()

	switch transOut.Kind {
	case retry.Success:
		job.HasTranscript = !transcript.Empty()
	default:
		job.HasTranscript = false
		job.AddDegraded("transcript unavailable: " + transOut.Reason)
		logger.Warn("continuing without transcript",
			logging.String("reason", transOut.Reason),
			logging.String(logging.FieldEventType, "input_degraded"),
		)
	}

	if job.SlideSource != "" {
		switch deckOut.Kind {
		case retry.Success:
			job.HasSlides = deck.Markdown != ""
			job.SlidesTrunc = deck.Truncated
		default:
			job.HasSlides = false
			job.AddDegraded("slides unavailable: " + deckOut.Reason)
			logger.Warn("continuing without slides",
				logging.String("reason", deckOut.Reason),
				logging.String(logging.FieldEventType, "input_degraded"),
			)
		}
	}

	job.SetProgress("Acquiring inputs", "inputs acquired", 100)
	return nil
}

func (h *Handler) fetchMedia(ctx context.Context, job *queue.Job, stagingDir string) (MediaArtifact, retry.Outcome) {
	paramFP := MediaParamFP()

	var cached MediaArtifact
	if h.cache.GetInto(StageMediaFetch, job.ContentFP, paramFP, &cached) {
		if _, err := os.Stat(cached.Path); err == nil {
			return cached, retry.Outcome{Kind: retry.Success}
		}
		// Cached file vanished; refetch below.
	}

	var artifact MediaArtifact
	outcome := h.retry.Invoke(ctx, retry.Options{Stage: "media_fetch"}, func(ctx context.Context) error {
		var (
			info media.Info
			err  error
		)
		if _, statErr := os.Stat(job.Source); statErr == nil {
			info, err = h.fetcher.Probe(ctx, job.Source)
			info.Path = job.Source
		} else {
			info, err = h.fetcher.Fetch(ctx, job.Source, stagingDir)
		}
		if err != nil {
			return err
		}
		artifact = MediaArtifact{
			Path:       info.Path,
			DurationMS: info.Duration.Milliseconds(),
			SizeBytes:  info.SizeBytes,
		}
		return nil
	})
	if outcome.Kind == retry.Success {
		if err := h.cache.Put(StageMediaFetch, job.ContentFP, paramFP, artifact, 0); err != nil {
			h.logger.Warn("media cache put failed", logging.Error(err))
		}
	}
	return artifact, outcome
}

func (h *Handler) transcribe(ctx context.Context, job *queue.Job, mediaPath string) (scribe.Transcript, retry.Outcome) {
	paramFP := TranscriptParamFP(h.cfg)

	var cached scribe.Transcript
	if h.cache.GetInto(StageTranscribe, job.ContentFP, paramFP, &cached) {
		return cached, retry.Outcome{Kind: retry.Success}
	}

	var transcript scribe.Transcript
	outcome := h.retry.Invoke(ctx, retry.Options{Stage: "transcription", Optional: true}, func(ctx context.Context) error {
		result, err := h.transcriber.Transcribe(ctx, mediaPath)
		if err != nil {
			return err
		}
		transcript = result
		return nil
	})
	if outcome.Kind == retry.Success {
		if err := h.cache.Put(StageTranscribe, job.ContentFP, paramFP, transcript, 0); err != nil {
			h.logger.Warn("transcript cache put failed", logging.Error(err))
		}
	}
	return transcript, outcome
}

func (h *Handler) extractSlides(ctx context.Context, job *queue.Job) (SlideDeck, retry.Outcome) {
	slideFP := fingerprint.Content(job.SlideSource)
	paramFP := SlideParamFP(h.cfg)

	var cached SlideDeck
	if h.cache.GetInto(StageSlides, slideFP, paramFP, &cached) {
		return cached, retry.Outcome{Kind: retry.Success}
	}

	var deck SlideDeck
	outcome := h.retry.Invoke(ctx, retry.Options{Stage: "slide_extraction", Optional: true}, func(ctx context.Context) error {
		result, err := h.slides.Extract(ctx, job.Principal, job.SlideSource)
		if err != nil {
			return err
		}
		deck = result
		return nil
	})
	if outcome.Kind == retry.Success {
		ttl := time.Duration(h.cfg.Slides.CacheTTLHours) * time.Hour
		if err := h.cache.Put(StageSlides, slideFP, paramFP, deck, ttl); err != nil {
			h.logger.Warn("slide cache put failed", logging.Error(err))
		}
	}
	return deck, outcome
}

func (h *Handler) cleanupStaging(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		h.logger.Warn("staging cleanup failed", logging.String("dir", dir), logging.Error(err))
	}
}

// HealthCheck verifies the staging directory and subprocess tooling.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(h.cfg.Paths.StagingDir, 0o755); err != nil {
		return stage.Unhealthy("acquirer", "staging directory unavailable: "+err.Error())
	}
	for _, binary := range []string{h.cfg.Media.YtDlpBinary, h.cfg.Media.FFprobeBinary} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy("acquirer", binary+" not found in PATH")
		}
	}
	return stage.Healthy("acquirer")
}
