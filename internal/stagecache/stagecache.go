// Package stagecache implements the content-addressed per-stage artifact
// cache. Entries are keyed by (stage, content fingerprint, parameter
// fingerprint) and stored as one JSON document per key, so changing a prompt
// or model version produces new keys and old artifacts age out instead of
// being deleted explicitly.
package stagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lectern/internal/logging"
)

// Entry is the persisted representation of one cached artifact.
type Entry struct {
	Stage     string          `json:"stage"`
	ContentFP string          `json:"content_fp"`
	ParamFP   string          `json:"param_fp"`
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Cache provides thread-safe access to the stage artifact cache. A zero
// directory yields a no-op cache (every lookup misses, puts are discarded).
type Cache struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

// New creates a cache rooted at dir.
func New(dir string, logger *slog.Logger) *Cache {
	return &Cache{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "stagecache"),
		now:    time.Now,
	}
}

// WithClock overrides the time source (used in tests).
func (c *Cache) WithClock(now func() time.Time) *Cache {
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns the cached payload for the key, or a miss. A miss is normal
// control flow, never an error. Expired entries are lazily evicted.
func (c *Cache) Get(stage, contentFP, paramFP string) (json.RawMessage, bool) {
	if c.dir == "" || stage == "" || contentFP == "" {
		return nil, false
	}
	path := c.entryPath(stage, contentFP, paramFP)

	c.mu.RLock()
	data, err := os.ReadFile(path)
	c.mu.RUnlock()
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("discarding unreadable cache entry",
			logging.String("path", path),
			logging.Error(err))
		c.remove(path)
		return nil, false
	}
	if entry.expired(c.now()) {
		c.remove(path)
		return nil, false
	}
	return entry.Payload, true
}

// GetInto decodes the cached payload into v, reporting whether a live entry
// was found.
func (c *Cache) GetInto(stage, contentFP, paramFP string, v any) bool {
	payload, ok := c.Get(stage, contentFP, paramFP)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		c.logger.Warn("cache payload decode failed",
			logging.String(logging.FieldStage, stage),
			logging.Error(err))
		return false
	}
	return true
}

// Put stores an artifact, overwriting any prior entry for the key
// (last-writer-wins). ttl of zero means the entry never expires.
func (c *Cache) Put(stage, contentFP, paramFP string, payload any, ttl time.Duration) error {
	if c.dir == "" {
		return nil
	}
	if stage == "" || contentFP == "" {
		return errors.New("stagecache: stage and content fingerprint required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stagecache: encode payload: %w", err)
	}
	entry := Entry{
		Stage:     stage,
		ContentFP: contentFP,
		ParamFP:   paramFP,
		Payload:   raw,
		CachedAt:  c.now().UTC(),
	}
	if ttl > 0 {
		entry.ExpiresAt = entry.CachedAt.Add(ttl)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("stagecache: encode entry: %w", err)
	}

	path := c.entryPath(stage, contentFP, paramFP)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stagecache: ensure stage directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stagecache: write entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("stagecache: persist entry: %w", err)
	}
	return nil
}

// Sweep removes every expired entry across all stages and returns the number
// of entries purged.
func (c *Cache) Sweep() (int, error) {
	if c.dir == "" {
		return 0, nil
	}
	now := c.now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil || entry.expired(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return removed, fmt.Errorf("stagecache: sweep: %w", err)
	}
	return removed, nil
}

func (c *Cache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(path)
}

func (c *Cache) entryPath(stage, contentFP, paramFP string) string {
	sum := sha256.Sum256([]byte(contentFP + "\x00" + paramFP))
	name := hex.EncodeToString(sum[:])[:32] + ".json"
	return filepath.Join(c.dir, sanitizeStage(stage), name)
}

func sanitizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, stage)
}
