package testsupport

import (
	"path/filepath"
	"testing"

	"lectern/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.KeyStore = filepath.Join(base, "keys.json")
	cfg.Paths.Socket = filepath.Join(base, "lecternd.sock")
	cfg.Ingest.Dir = filepath.Join(base, "ingest")
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.HeartbeatInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithMergePolicy overrides the summarizer merge policy on the test config.
func WithMergePolicy(policy string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Summarizer.MergePolicy = policy
	}
}

// WithSegmentSeconds overrides the maximum segment length.
func WithSegmentSeconds(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Media.MaxSegmentSeconds = seconds
	}
}

// WithIngest enables the watch folder on the test config.
func WithIngest() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Ingest.Enabled = true
	}
}
