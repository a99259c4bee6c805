// Package daemon assembles the long-running process: queue store, stage
// cache, credential pools, the pipeline manager with its stage handlers, the
// ingest watcher, and a periodic cache sweeper. A lock file enforces a single
// instance per data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"lectern/internal/acquiring"
	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/ingest"
	"lectern/internal/keypool"
	"lectern/internal/logging"
	"lectern/internal/media"
	"lectern/internal/merging"
	"lectern/internal/pipeline"
	"lectern/internal/queue"
	"lectern/internal/segmenting"
	"lectern/internal/services/model"
	"lectern/internal/services/scribe"
	"lectern/internal/stagecache"
	"lectern/internal/summarizing"
)

// Daemon owns every long-lived component and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	cache   *stagecache.Cache
	keys    *keypool.Manager
	manager *pipeline.Manager
	service *api.Service
	watcher *ingest.Watcher

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Pipeline     pipeline.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New builds the daemon and all of its components. Nothing starts running
// until Start is called.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	cache := stagecache.New(cfg.Paths.CacheDir, logger)
	keys := keypool.NewManager(cfg.Paths.KeyStore, time.Duration(cfg.Summarizer.CooldownSeconds)*time.Second, logger)

	toolbox := media.NewToolbox(cfg.Media.YtDlpBinary, cfg.Media.FFmpegBinary, cfg.Media.FFprobeBinary)
	transcriber := scribe.NewClient(scribe.Config{
		BaseURL:      cfg.Transcriber.BaseURL,
		APIKey:       cfg.Transcriber.APIKey,
		PollInterval: time.Duration(cfg.Transcriber.PollInterval) * time.Second,
		PollTimeout:  time.Duration(cfg.Transcriber.PollTimeout) * time.Second,
	})

	slideGen := model.NewGenerator(model.Config{
		Model:   cfg.Slides.Model,
		Timeout: time.Duration(cfg.Slides.TimeoutSeconds) * time.Second,
	})
	summaryGen := model.NewGenerator(model.Config{
		Model:   cfg.Summarizer.Model,
		Timeout: time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second,
	})
	slideRotator := model.NewRotator(slideGen, keys, cfg.Summarizer.DefaultAPIKey)
	summaryRotator := model.NewRotator(summaryGen, keys, cfg.Summarizer.DefaultAPIKey)

	extractor := acquiring.NewExtractor(cfg.Slides, slideRotator, logger)

	manager := pipeline.NewManager(cfg, store, logger)
	manager.ConfigureStages(pipeline.StageSet{
		Acquirer:   acquiring.New(cfg, cache, toolbox, transcriber, extractor, logger),
		Segmenter:  segmenting.New(cfg, toolbox, logger),
		Summarizer: summarizing.New(cfg, cache, summaryRotator, logger),
		Merger:     merging.New(cfg, cache, logger),
	})

	service := api.NewService(store, manager, keys)

	var watcher *ingest.Watcher
	if cfg.Ingest.Enabled {
		watcher = ingest.NewWatcher(cfg.Ingest, service, logger)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		cache:    cache,
		keys:     keys,
		manager:  manager,
		service:  service,
		watcher:  watcher,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// API exposes the operator service for the IPC layer.
func (d *Daemon) API() *api.Service {
	return d.service
}

// Start acquires the lock, resets orphaned jobs, and launches the pipeline
// plus background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lectern daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)

	// Jobs left mid-stage by an unclean shutdown resume from their stage start.
	if reset, err := d.store.ResetStuckProcessing(runCtx); err != nil {
		d.logger.Warn("reset stuck jobs failed", logging.Error(err))
	} else if reset > 0 {
		d.logger.Info("reset stuck jobs from previous run", logging.Int64("count", reset))
	}

	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	d.cancel = cancel

	d.bg.Add(1)
	go d.sweepLoop(runCtx)

	if d.watcher != nil {
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			if err := d.watcher.Run(runCtx); err != nil {
				d.logger.Error("ingest watcher stopped", logging.Error(err))
			}
		}()
	}

	d.running.Store(true)
	d.logger.Info("lectern daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.bg.Done()
	interval := time.Duration(d.cfg.Workflow.CacheSweepInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := d.cache.Sweep(); err != nil {
				d.logger.Warn("cache sweep failed", logging.Error(err))
			} else if removed > 0 {
				d.logger.Debug("cache sweep removed expired entries", logging.Int("count", removed))
			}
		}
	}
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("lectern daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Pipeline:     d.manager.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
