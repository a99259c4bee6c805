package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(m.startOrder) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to yield.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil {
			logger.Warn("reclaim stale processing failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		select {
		case <-ctx.Done():
			return
		case m.workers <- struct{}{}:
		}

		job, err := m.store.NextForStatuses(ctx, m.startOrder...)
		if err != nil {
			<-m.workers
			m.handleNextJobError(ctx, logger, err)
			continue
		}
		if job == nil {
			<-m.workers
			m.waitForJobOrShutdown(ctx)
			continue
		}

		stg, ok := m.stageByStart[job.Status]
		if !ok {
			<-m.workers
			logger.Warn("no stage configured for status", logging.String("status", string(job.Status)))
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.transitionToProcessing(ctx, stg, job); err != nil {
			<-m.workers
			logger.Error("failed to transition job to processing", logging.Error(err))
			m.setLastError(err)
			continue
		}

		m.wg.Add(1)
		go func(stg pipelineStage, job *queue.Job) {
			defer m.wg.Done()
			defer func() { <-m.workers }()
			m.processJob(ctx, stg, job)
		}(stg, job)
	}
}

func (m *Manager) handleNextJobError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to fetch next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) transitionToProcessing(ctx context.Context, stg pipelineStage, job *queue.Job) error {
	now := time.Now().UTC()
	job.Status = stg.processingStatus
	job.SetProgress(deriveStageLabel(stg.processingStatus), fmt.Sprintf("%s started", deriveStageLabel(stg.processingStatus)), 0)
	job.ErrorMessage = ""
	job.LastHeartbeat = &now
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastJob(job)
	return nil
}

func (m *Manager) processJob(ctx context.Context, stg pipelineStage, job *queue.Job) {
	requestID := uuid.NewString()
	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()
	m.registerJobCancel(job.ID, jobCancel)
	defer m.unregisterJobCancel(job.ID)

	stageCtx := services.WithRequestID(services.WithStage(services.WithJobID(jobCtx, job.ID), stg.name), requestID)
	stageLogger := logging.WithContext(stageCtx, m.logger.With(logging.String(logging.FieldComponent, stg.name)))

	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
		logging.String("source", job.Source),
	)

	if err := stg.handler.Prepare(stageCtx, job); err != nil {
		m.handleStageFailure(ctx, stageLogger, stg.name, job, err)
		return
	}
	if err := m.store.Update(stageCtx, job); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return
	}

	execErr := m.executeWithHeartbeat(stageCtx, stg, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			if reason, requested := m.takeCancelRequest(job.ID); requested {
				m.finalizeCancelled(context.WithoutCancel(ctx), stageLogger, job, reason)
				return
			}
			stageLogger.Debug("stage interrupted by shutdown")
			return
		}
		m.handleStageFailure(ctx, stageLogger, stg.name, job, execErr)
		return
	}

	if job.Status == stg.processingStatus || job.Status == "" {
		job.Status = stg.doneStatus
	}
	job.LastHeartbeat = nil
	if job.Status == queue.StatusCompleted {
		job.SetProgress(deriveStageLabel(queue.StatusCompleted), deriveStageLabel(queue.StatusCompleted), 100)
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastJob(job)
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, stg pipelineStage, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := stg.handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) finalizeCancelled(ctx context.Context, logger *slog.Logger, job *queue.Job, reason string) {
	job.Status = queue.StatusCancelled
	job.LastHeartbeat = nil
	if reason == "" {
		reason = "cancelled by operator"
	}
	job.SetProgress("Cancelled", reason, 0)
	if err := m.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
		m.setLastError(err)
		return
	}
	m.removeStaging(job.ID)
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	m.setLastJob(job)
}

// removeStaging drops a job's staging directory. Cancelled jobs never reach
// the merge stage, which is where staging is normally cleaned up.
func (m *Manager) removeStaging(id int64) {
	dir := filepath.Join(m.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", id))
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("staging cleanup failed", logging.String("dir", dir), logging.Error(err))
	}
}
