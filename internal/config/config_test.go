package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Summarizer.Model != defaultSummaryModel {
		t.Fatalf("model = %q", cfg.Summarizer.Model)
	}
	if cfg.Summarizer.MergePolicy != MergePolicyBlock {
		t.Fatalf("merge policy = %q, want block default", cfg.Summarizer.MergePolicy)
	}
	if cfg.Media.MaxSegmentSeconds != defaultMaxSegmentSecs {
		t.Fatalf("max segment seconds = %d", cfg.Media.MaxSegmentSeconds)
	}
	if cfg.Ingest.Enabled {
		t.Fatal("ingest enabled by default")
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[logging]
format = " JSON "
level = "Debug"

[media]
max_segment_seconds = 900

[transcriber]
base_url = "https://scribe.example.com/v2/"

[summarizer]
merge_policy = "Partial"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format = %q, want lowered and trimmed", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Media.MaxSegmentSeconds != 900 {
		t.Fatalf("max segment seconds = %d", cfg.Media.MaxSegmentSeconds)
	}
	if cfg.Transcriber.BaseURL != "https://scribe.example.com/v2" {
		t.Fatalf("base url = %q, want trailing slash stripped", cfg.Transcriber.BaseURL)
	}
	if cfg.Summarizer.MergePolicy != MergePolicyPartial {
		t.Fatalf("merge policy = %q", cfg.Summarizer.MergePolicy)
	}
	// Untouched sections keep their defaults.
	if cfg.Workflow.JobWorkers != defaultJobWorkers {
		t.Fatalf("job workers = %d", cfg.Workflow.JobWorkers)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad log format", "[logging]\nformat = \"xml\"\n", "logging.format"},
		{"bad merge policy", "[summarizer]\nmerge_policy = \"best_effort\"\n", "merge_policy"},
		{"zero segment ceiling", "[media]\nmax_segment_seconds = 0\n", "max_segment_seconds"},
		{"heartbeat timeout below interval", "[workflow]\nheartbeat_interval = 60\nheartbeat_timeout = 30\n", "heartbeat_timeout"},
		{"zero key cooldown", "[summarizer]\ncooldown_seconds = 0\n", "cooldown_seconds"},
		{"ingest without dir", "[ingest]\nenabled = true\ndir = \"\"\n", "ingest.dir"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load succeeded with invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := expandPath("~/data"); got != filepath.Join(home, "data") {
		t.Fatalf("expandPath(~/data) = %q", got)
	}
	if got := expandPath("~"); got != home {
		t.Fatalf("expandPath(~) = %q", got)
	}
	if got := expandPath("/var//lib/../lib/lectern"); got != "/var/lib/lectern" {
		t.Fatalf("expandPath cleaned = %q", got)
	}
	if got := expandPath("  "); got != "" {
		t.Fatalf("expandPath(blank) = %q", got)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[summarizer]") {
		t.Fatal("sample missing summarizer section")
	}
	// The sample must itself load cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("WriteSample overwrote an existing file")
	}
}

func TestQueueAndLockPaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/data/lectern"
	if got := cfg.QueueDBPath(); got != "/data/lectern/queue.db" {
		t.Fatalf("QueueDBPath = %q", got)
	}
	if got := cfg.LockPath(); got != "/data/lectern/lecternd.lock" {
		t.Fatalf("LockPath = %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Ingest.Enabled = true
	cfg.Ingest.Dir = filepath.Join(base, "ingest")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.StagingDir, cfg.Paths.LogDir, cfg.Paths.CacheDir, cfg.Ingest.Dir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("directory %s missing: %v", dir, err)
		}
	}
}
