package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if c.Paths.StagingDir == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if c.Paths.CacheDir == "" {
		problems = append(problems, "paths.cache_dir must not be empty")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}
	if c.Workflow.QueuePollInterval <= 0 {
		problems = append(problems, "workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		problems = append(problems, "workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.JobWorkers <= 0 {
		problems = append(problems, "workflow.job_workers must be positive")
	}
	if c.Workflow.SegmentWorkers <= 0 {
		problems = append(problems, "workflow.segment_workers must be positive")
	}
	if c.Media.MaxSegmentSeconds <= 0 {
		problems = append(problems, "media.max_segment_seconds must be positive")
	}
	if c.Slides.MaxPages <= 0 {
		problems = append(problems, "slides.max_pages must be positive")
	}
	if c.Summarizer.MaxAttempts <= 0 {
		problems = append(problems, "summarizer.max_attempts must be positive")
	}
	if c.Summarizer.CooldownSeconds <= 0 {
		problems = append(problems, "summarizer.cooldown_seconds must be positive")
	}
	switch c.Summarizer.MergePolicy {
	case MergePolicyBlock, MergePolicyPartial:
	default:
		problems = append(problems, fmt.Sprintf("summarizer.merge_policy must be %q or %q", MergePolicyBlock, MergePolicyPartial))
	}
	if c.Ingest.Enabled && c.Ingest.Dir == "" {
		problems = append(problems, "ingest.dir must be set when ingest.enabled is true")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
