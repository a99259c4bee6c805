// Package api defines transport-friendly DTOs and the operator-facing
// service operations the IPC layer exposes. It translates internal queue
// models into wire types so clients never couple to internal structs.
package api

import (
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/queue"
)

const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID            int64       `json:"id"`
	Source        string      `json:"source"`
	Mode          string      `json:"mode"`
	SlideSource   string      `json:"slideSource,omitempty"`
	Principal     string      `json:"principal,omitempty"`
	Status        string      `json:"status"`
	PendingReason string      `json:"pendingReason,omitempty"`
	Progress      JobProgress `json:"progress"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	Degraded      []string    `json:"degraded,omitempty"`
	HasTranscript bool        `json:"hasTranscript"`
	HasSlides     bool        `json:"hasSlides"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	UpdatedAt     string      `json:"updatedAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PipelineStatus summarizes pipeline execution state.
type PipelineStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *JobView       `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// CredentialView exposes a pool credential with its key masked.
type CredentialView struct {
	ID            string `json:"id"`
	MaskedKey     string `json:"maskedKey"`
	UsageCount    int64  `json:"usageCount"`
	CoolingDown   bool   `json:"coolingDown"`
	CooldownUntil string `json:"cooldownUntil,omitempty"`
	AddedAt       string `json:"addedAt,omitempty"`
}

// FromJob converts a queue job into its DTO.
func FromJob(job *queue.Job) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		ID:            job.ID,
		Source:        job.Source,
		Mode:          job.Mode,
		SlideSource:   job.SlideSource,
		Principal:     job.Principal,
		Status:        string(job.Status),
		PendingReason: job.PendingDetail(),
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ErrorMessage:  job.ErrorMessage,
		Degraded:      job.Degraded(),
		HasTranscript: job.HasTranscript,
		HasSlides:     job.HasSlides,
		CreatedAt:     formatOptionalTime(job.CreatedAt),
		UpdatedAt:     formatOptionalTime(job.UpdatedAt),
	}
	return view
}

// FromJobs converts a slice of jobs.
func FromJobs(jobs []*queue.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}

// FromStatusSummary converts pipeline diagnostics into the wire format.
func FromStatusSummary(summary pipeline.StatusSummary) PipelineStatus {
	status := PipelineStatus{
		Running:    summary.Running,
		LastError:  summary.LastError,
		QueueStats: make(map[string]int, len(summary.QueueStats)),
	}
	for k, v := range summary.QueueStats {
		status.QueueStats[string(k)] = v
	}
	if summary.LastJob != nil {
		view := FromJob(summary.LastJob)
		status.LastJob = &view
	}
	for name, health := range summary.StageHealth {
		status.StageHealth = append(status.StageHealth, StageHealth{
			Name:   name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	return status
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeFormat)
}
