package pipeline

import (
	"context"

	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/stage"
)

// StatusSummary represents lightweight pipeline diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastJob     *queue.Job
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest pipeline information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	stages := make([]pipelineStage, len(m.stages))
	copy(stages, m.stages)
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		if stg.handler == nil {
			continue
		}
		health[stg.name] = stg.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, QueueStats: stats, StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copied := *lastJob
		summary.LastJob = &copied
	}
	return summary
}

// RequestCancel cancels a job. In-flight jobs are interrupted and marked
// cancelled by their worker; idle jobs are transitioned directly.
func (m *Manager) RequestCancel(ctx context.Context, id int64, reason string) (bool, error) {
	m.mu.Lock()
	cancel, inFlight := m.jobCancels[id]
	if inFlight {
		m.cancelRequested[id] = reason
	}
	m.mu.Unlock()

	if inFlight {
		cancel()
		return true, nil
	}
	ok, err := m.store.MarkCancelled(ctx, id, reason)
	if err == nil && ok {
		m.removeStaging(id)
	}
	return ok, err
}

func (m *Manager) registerJobCancel(id int64, cancel context.CancelFunc) {
	m.mu.Lock()
	m.jobCancels[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) unregisterJobCancel(id int64) {
	m.mu.Lock()
	delete(m.jobCancels, id)
	delete(m.cancelRequested, id)
	m.mu.Unlock()
}

func (m *Manager) takeCancelRequest(id int64) (string, bool) {
	m.mu.Lock()
	reason, ok := m.cancelRequested[id]
	if ok {
		delete(m.cancelRequested, id)
	}
	m.mu.Unlock()
	return reason, ok
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	m.mu.Lock()
	if job != nil {
		copied := *job
		m.lastJob = &copied
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
