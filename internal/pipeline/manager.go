package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lectern/internal/config"
	"lectern/internal/queue"
	"lectern/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Acquirer   stage.Handler
	Segmenter  stage.Handler
	Summarizer stage.Handler
	Merger     stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// Manager coordinates job processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	pollInterval time.Duration

	heartbeat *HeartbeatMonitor

	stages       []pipelineStage
	stageByStart map[queue.Status]pipelineStage
	startOrder   []queue.Status

	workers chan struct{}

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	lastErr         error
	lastJob         *queue.Job
	jobCancels      map[int64]context.CancelFunc
	cancelRequested map[int64]string
}

// NewManager constructs a pipeline manager without stages configured.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	workerCount := cfg.Workflow.JobWorkers
	if workerCount < 1 {
		workerCount = 1
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		workers:         make(chan struct{}, workerCount),
		jobCancels:      make(map[int64]context.CancelFunc),
		cancelRequested: make(map[int64]string),
	}
}

// ConfigureStages registers the stage handlers in pipeline order.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = []pipelineStage{
		{
			name:             "acquirer",
			handler:          set.Acquirer,
			startStatus:      queue.StatusPending,
			processingStatus: queue.StatusAcquiring,
			doneStatus:       queue.StatusAcquired,
		},
		{
			name:             "segmenter",
			handler:          set.Segmenter,
			startStatus:      queue.StatusAcquired,
			processingStatus: queue.StatusSegmenting,
			doneStatus:       queue.StatusSegmented,
		},
		{
			name:             "summarizer",
			handler:          set.Summarizer,
			startStatus:      queue.StatusSegmented,
			processingStatus: queue.StatusSummarizing,
			doneStatus:       queue.StatusSummarized,
		},
		{
			name:             "merger",
			handler:          set.Merger,
			startStatus:      queue.StatusSummarized,
			processingStatus: queue.StatusMerging,
			doneStatus:       queue.StatusCompleted,
		},
	}

	m.stageByStart = make(map[queue.Status]pipelineStage, len(m.stages))
	m.startOrder = make([]queue.Status, 0, len(m.stages))
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
		m.startOrder = append(m.startOrder, stg.startStatus)
	}
}

func deriveStageLabel(status queue.Status) string {
	switch status {
	case queue.StatusAcquiring:
		return "Acquiring inputs"
	case queue.StatusSegmenting:
		return "Segmenting media"
	case queue.StatusSummarizing:
		return "Summarizing segments"
	case queue.StatusMerging:
		return "Merging document"
	case queue.StatusCompleted:
		return "Completed"
	default:
		return string(status)
	}
}
