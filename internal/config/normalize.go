package config

import (
	"os"
	"path/filepath"
	"strings"
)

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Clean(path)
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandPath(c.Paths.DataDir)
	c.Paths.StagingDir = expandPath(c.Paths.StagingDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Paths.CacheDir = expandPath(c.Paths.CacheDir)
	c.Paths.KeyStore = expandPath(c.Paths.KeyStore)
	c.Paths.Socket = expandPath(c.Paths.Socket)
	c.Ingest.Dir = expandPath(c.Ingest.Dir)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Summarizer.MergePolicy = strings.ToLower(strings.TrimSpace(c.Summarizer.MergePolicy))
	c.Transcriber.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcriber.BaseURL), "/")
}
