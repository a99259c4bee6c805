package ipc

import "lectern/internal/api"

// JobView mirrors the api DTO for IPC callers.
type JobView = api.JobView

// SubmitRequest enqueues a new job.
type SubmitRequest = api.SubmitRequest

// SubmitResponse carries the created job.
type SubmitResponse struct {
	Job JobView `json:"job"`
}

// StatusRequest fetches one job.
type StatusRequest struct {
	ID int64 `json:"id"`
}

// StatusResponse carries one job.
type StatusResponse struct {
	Job JobView `json:"job"`
}

// ResultRequest fetches a completed job's document.
type ResultRequest struct {
	ID int64 `json:"id"`
}

// ResultResponse carries the final markdown document.
type ResultResponse struct {
	Document string `json:"document"`
}

// ResolveRequest applies an operator decision to a blocked job.
type ResolveRequest struct {
	ID     int64  `json:"id"`
	Choice string `json:"choice"`
	NewKey string `json:"newKey,omitempty"`
}

// ResolveResponse carries the job after the decision was applied.
type ResolveResponse struct {
	Job JobView `json:"job"`
}

// CancelRequest cancels a job.
type CancelRequest struct {
	ID int64 `json:"id"`
}

// CancelResponse reports whether a job was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// QueueListRequest filters job listing by status names.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains job views.
type QueueListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// QueueRetryRequest retries failed jobs. Empty list means all failed jobs.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports number of retried jobs.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueClearRequest removes jobs within a scope (all, failed, completed).
type QueueClearRequest struct {
	Scope string `json:"scope"`
}

// QueueClearResponse reports number of removed jobs.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// StatsRequest fetches job counts by status.
type StatsRequest struct{}

// StatsResponse carries job counts keyed by status name.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// DaemonStatusRequest fetches daemon diagnostics.
type DaemonStatusRequest struct{}

// DaemonStatusResponse represents combined daemon/pipeline status.
type DaemonStatusResponse struct {
	Running     bool               `json:"running"`
	PID         int                `json:"pid"`
	QueueDBPath string             `json:"queueDbPath"`
	LockPath    string             `json:"lockPath"`
	Pipeline    api.PipelineStatus `json:"pipeline"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// KeysAddRequest installs a credential into a principal's pool.
type KeysAddRequest struct {
	Principal string `json:"principal"`
	Key       string `json:"key"`
}

// KeysAddResponse carries the stored credential, masked.
type KeysAddResponse struct {
	Credential api.CredentialView `json:"credential"`
}

// KeysRemoveRequest removes a credential by id, key, or masked form.
type KeysRemoveRequest struct {
	Principal string `json:"principal"`
	Ref       string `json:"ref"`
}

// KeysRemoveResponse acknowledges removal.
type KeysRemoveResponse struct {
	Removed bool `json:"removed"`
}

// KeysListRequest lists a principal's credentials.
type KeysListRequest struct {
	Principal string `json:"principal"`
}

// KeysListResponse carries masked credentials.
type KeysListResponse struct {
	Credentials []api.CredentialView `json:"credentials"`
}
