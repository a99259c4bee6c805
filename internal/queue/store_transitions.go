package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ResetStuckProcessing resets jobs left in processing states back to the start
// of their current stage. Run at daemon startup before workers begin.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = CASE status
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE status
         END,
             progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusAcquiring, StatusPending,
		StatusSegmenting, StatusAcquired,
		StatusSummarizing, StatusSegmented,
		StatusMerging, StatusSummarized,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusAcquiring,
		StatusSegmenting,
		StatusSummarizing,
		StatusMerging,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleProcessing returns jobs stuck in processing back to the start of
// their current stage when heartbeats expire.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
        SET status = CASE status
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE status
        END,
            progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (?, ?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusAcquiring, StatusPending,
		StatusSegmenting, StatusAcquired,
		StatusSummarizing, StatusSegmented,
		StatusMerging, StatusSummarized,
		now.Format(time.RFC3339Nano),
		StatusAcquiring,
		StatusSegmenting,
		StatusSummarizing,
		StatusMerging,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
            SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			time.Now().UTC().Format(time.RFC3339Nano),
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs
        SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResumeBlocked moves a job out of awaiting_operator back to the start of the
// stage it was blocked in. Returns false when the job is missing or not blocked.
func (s *Store) ResumeBlocked(ctx context.Context, id int64) (bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil || job.Status != StatusAwaitingOperator {
		return false, nil
	}

	target := StatusPending
	if rollback, ok := RollbackTarget(job.BlockedStatus); ok {
		target = rollback
	}

	job.Status = target
	job.BlockedStatus = ""
	job.PendingReason = ""
	job.ErrorMessage = ""
	job.LastHeartbeat = nil
	job.SetProgress("Operator resumed", "", 0)
	if err := s.Update(ctx, job); err != nil {
		return false, fmt.Errorf("resume blocked job: %w", err)
	}
	return true, nil
}

// MarkCancelled transitions a job to cancelled from any non-terminal status.
// Returns false when the job is missing or already terminal.
func (s *Store) MarkCancelled(ctx context.Context, id int64, reason string) (bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil || IsTerminalStatus(job.Status) {
		return false, nil
	}

	job.Status = StatusCancelled
	job.BlockedStatus = ""
	job.PendingReason = ""
	job.LastHeartbeat = nil
	if reason == "" {
		reason = "cancelled by operator"
	}
	job.SetProgress("Cancelled", reason, 0)
	if err := s.Update(ctx, job); err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return true, nil
}
