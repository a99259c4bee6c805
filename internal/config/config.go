package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	CacheDir   string `toml:"cache_dir"`
	KeyStore   string `toml:"key_store"`
	Socket     string `toml:"socket"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow contains daemon timing and concurrency settings.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	JobWorkers         int `toml:"job_workers"`
	SegmentWorkers     int `toml:"segment_workers"`
	CacheSweepInterval int `toml:"cache_sweep_interval"`
}

// Media contains subprocess tooling and segmentation settings.
type Media struct {
	YtDlpBinary       string `toml:"ytdlp_binary"`
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	FFprobeBinary     string `toml:"ffprobe_binary"`
	FetchTimeout      int    `toml:"fetch_timeout"`
	MaxSegmentSeconds int    `toml:"max_segment_seconds"`
}

// Transcriber contains configuration for the speech-to-text provider.
type Transcriber struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	PollInterval int    `toml:"poll_interval"`
	PollTimeout  int    `toml:"poll_timeout"`
}

// Slides contains configuration for slide-deck extraction.
type Slides struct {
	Model          string `toml:"model"`
	MaxPages       int    `toml:"max_pages"`
	CacheTTLHours  int    `toml:"cache_ttl_hours"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Summarizer contains model and merge settings for segment summarization.
type Summarizer struct {
	Model           string `toml:"model"`
	PromptVersion   string `toml:"prompt_version"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxAttempts     int    `toml:"max_attempts"`
	DefaultAPIKey   string `toml:"default_api_key"`
	CooldownSeconds int    `toml:"cooldown_seconds"`
	// MergePolicy controls what happens when one segment fails fatally:
	// "block" keeps the job awaiting an operator decision, "partial" merges
	// the surviving segments and flags the gap.
	MergePolicy string `toml:"merge_policy"`
}

// Ingest contains watch-folder auto submission settings.
type Ingest struct {
	Enabled       bool   `toml:"enabled"`
	Dir           string `toml:"dir"`
	SettleSeconds int    `toml:"settle_seconds"`
}

// Config is the root configuration document.
type Config struct {
	Paths       Paths       `toml:"paths"`
	Logging     Logging     `toml:"logging"`
	Workflow    Workflow    `toml:"workflow"`
	Media       Media       `toml:"media"`
	Transcriber Transcriber `toml:"transcriber"`
	Slides      Slides      `toml:"slides"`
	Summarizer  Summarizer  `toml:"summarizer"`
	Ingest      Ingest      `toml:"ingest"`
}

// DefaultConfigPath returns the expected config file location.
func DefaultConfigPath() string {
	return expandPath("~/.config/lectern/config.toml")
}

// Load reads the config file at path (or the default location when empty),
// applies defaults, normalizes paths, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Missing config is fine; defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir, c.Paths.CacheDir}
	if c.Ingest.Enabled {
		dirs = append(dirs, c.Ingest.Dir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lecternd.lock")
}
