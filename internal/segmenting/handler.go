// Package segmenting implements the splitter stage: the fetched recording is
// divided into bounded, contiguous segments which are cut into per-segment
// files for the summarizer.
package segmenting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

// Cutter cuts a media file into per-segment files.
type Cutter interface {
	CutSegments(ctx context.Context, source string, segments []media.Segment, destDir string) ([]media.Segment, error)
}

// Handler runs the segmentation stage.
type Handler struct {
	cfg    *config.Config
	cutter Cutter
	logger *slog.Logger
}

// New constructs the segmentation stage handler.
func New(cfg *config.Config, cutter Cutter, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		cutter: cutter,
		logger: logging.NewComponentLogger(logger, "segmenter"),
	}
}

// Prepare validates that acquisition left a usable media file behind.
func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	if job.MediaPath == "" {
		return services.Wrap(services.ErrValidation, "segmenting", "check media",
			"job has no media path; acquisition must run first", nil)
	}
	if _, err := os.Stat(job.MediaPath); err != nil {
		return services.Wrap(services.ErrNotFound, "segmenting", "check media",
			fmt.Sprintf("media file %s missing", job.MediaPath), err)
	}
	if job.MediaDuration <= 0 {
		return services.Wrap(services.ErrValidation, "segmenting", "check media",
			"media duration unknown; acquisition must probe the file", nil)
	}
	return nil
}

// Execute splits the recording and cuts segment files into the staging dir.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	ceiling := time.Duration(h.cfg.Media.MaxSegmentSeconds) * time.Second
	segments := media.Split(job.MediaDuration, ceiling)

	segmentDir := filepath.Join(h.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", job.ID), "segments")
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "segmenting", "create segment dir",
			"segment directory unavailable", err)
	}

	cut := segments
	if len(segments) > 1 {
		var err error
		cut, err = h.cutter.CutSegments(ctx, job.MediaPath, segments, segmentDir)
		if err != nil {
			return err
		}
	} else {
		// A single segment summarizes the original file directly.
		cut[0].Path = job.MediaPath
	}

	data, err := json.Marshal(cut)
	if err != nil {
		return services.Wrap(services.ErrValidation, "segmenting", "encode segments",
			"segment plan not serializable", err)
	}
	job.SegmentsJSON = string(data)
	job.SetProgress("Segmenting media", fmt.Sprintf("%d segments", len(cut)), 100)

	logging.WithContext(ctx, h.logger).Info("media segmented",
		logging.Int("segments", len(cut)),
		logging.Duration("segment_ceiling", ceiling),
		logging.Duration("media_duration", job.MediaDuration),
	)
	return nil
}

// HealthCheck verifies ffmpeg is available for cutting.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(h.cfg.Media.FFmpegBinary); err != nil {
		return stage.Unhealthy("segmenter", h.cfg.Media.FFmpegBinary+" not found in PATH")
	}
	return stage.Healthy("segmenter")
}

// Segments decodes the plan a previous run stored on the job.
func Segments(job *queue.Job) ([]media.Segment, error) {
	if job.SegmentsJSON == "" {
		return nil, services.Wrap(services.ErrValidation, "segmenting", "decode segments",
			"job has no segment plan; segmentation must run first", nil)
	}
	var segments []media.Segment
	if err := json.Unmarshal([]byte(job.SegmentsJSON), &segments); err != nil {
		return nil, services.Wrap(services.ErrValidation, "segmenting", "decode segments",
			"segment plan corrupt", err)
	}
	return segments, nil
}
