package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, stageName string, job *queue.Job, stageErr error) {
	message := classifyStageFailure(stageName, stageErr)

	if errors.Is(stageErr, services.ErrExhausted) {
		job.SetAwaitingOperator(message)
		logger.Warn("stage blocked awaiting operator",
			logging.String(logging.FieldEventType, "stage_blocked"),
			logging.String("reason", message),
			logging.String("blocked_status", string(job.BlockedStatus)),
			logging.String(logging.FieldErrorHint, "resolve with retry, cancel, or change_key"),
		)
	} else {
		job.SetFailed(message)
		logger.Error("stage failed",
			logging.Error(stageErr),
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_message", message),
		)
	}

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastError(stageErr)
	m.setLastJob(job)
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageName + " failed without error detail"
	}
	message := strings.TrimSpace(services.Details(stageErr).Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = stageName + " failed"
	}
	return message
}
