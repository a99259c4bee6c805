// Package ingest watches a drop folder and submits stable media files as
// lecture jobs. Stability is size-settling: a file is submitted only after
// its size stops changing for the configured settle window, so partially
// copied recordings are never picked up.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/logging"
)

var mediaExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".mov":  {},
	".webm": {},
	".mp3":  {},
	".m4a":  {},
	".wav":  {},
}

// Submitter enqueues a job for a discovered file.
type Submitter interface {
	Submit(ctx context.Context, req api.SubmitRequest) (api.JobView, error)
}

type candidate struct {
	size     int64
	lastSeen time.Time
}

// Watcher submits stable media files appearing in the ingest directory.
type Watcher struct {
	cfg       config.Ingest
	submitter Submitter
	logger    *slog.Logger

	mu        sync.Mutex
	pending   map[string]candidate
	submitted map[string]struct{}

	wg sync.WaitGroup
}

// NewWatcher constructs a watcher; it does nothing until Run is called.
func NewWatcher(cfg config.Ingest, submitter Submitter, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:       cfg,
		submitter: submitter,
		logger:    logging.NewComponentLogger(logger, "ingest"),
		pending:   make(map[string]candidate),
		submitted: make(map[string]struct{}),
	}
}

// Run watches the ingest directory until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.cfg.Dir); err != nil {
		return err
	}
	w.logger.Info("watching ingest directory", logging.String("dir", w.cfg.Dir))

	// Pick up files that were already present before the watch began.
	w.scanExisting()

	settle := time.Duration(w.cfg.SettleSeconds) * time.Second
	if settle <= 0 {
		settle = 5 * time.Second
	}
	ticker := time.NewTicker(settle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.track(event.Name)
			}
			if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				w.forget(event.Name)
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.logger.Warn("watch error", logging.Error(err))
		case <-ticker.C:
			w.submitSettled(ctx, settle)
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("initial scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.track(filepath.Join(w.cfg.Dir, entry.Name()))
	}
}

func (w *Watcher) track(path string) {
	if _, ok := mediaExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.submitted[path]; done {
		return
	}
	prev, tracked := w.pending[path]
	if !tracked || prev.size != info.Size() {
		w.pending[path] = candidate{size: info.Size(), lastSeen: time.Now()}
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	delete(w.submitted, path)
	w.mu.Unlock()
}

func (w *Watcher) submitSettled(ctx context.Context, settle time.Duration) {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, cand := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != cand.size {
			w.pending[path] = candidate{size: info.Size(), lastSeen: now}
			continue
		}
		if cand.size > 0 && now.Sub(cand.lastSeen) >= settle {
			ready = append(ready, path)
			delete(w.pending, path)
			w.submitted[path] = struct{}{}
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.wg.Add(1)
		go func(path string) {
			defer w.wg.Done()
			view, err := w.submitter.Submit(ctx, api.SubmitRequest{Source: path})
			if err != nil {
				w.logger.Error("auto-submit failed", logging.String("path", path), logging.Error(err))
				w.forget(path)
				return
			}
			w.logger.Info("file submitted",
				logging.String("path", path),
				logging.Int64(logging.FieldJobID, view.ID),
				logging.String(logging.FieldEventType, "ingest_submit"),
			)
		}(path)
	}
}
