package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a summarization job.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAcquiring        Status = "acquiring"
	StatusAcquired         Status = "acquired"
	StatusSegmenting       Status = "segmenting"
	StatusSegmented        Status = "segmented"
	StatusSummarizing      Status = "summarizing"
	StatusSummarized       Status = "summarized"
	StatusMerging          Status = "merging"
	StatusCompleted        Status = "completed"
	StatusAwaitingOperator Status = "awaiting_operator"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Modes describe what kind of recording a job summarizes.
const (
	ModeLecture = "lecture"
	ModeMeeting = "meeting"
)

// Operator choices accepted by Resolve.
const (
	ChoiceRetry     = "retry"
	ChoiceCancel    = "cancel"
	ChoiceChangeKey = "change_key"
)

var allStatuses = []Status{
	StatusPending,
	StatusAcquiring,
	StatusAcquired,
	StatusSegmenting,
	StatusSegmented,
	StatusSummarizing,
	StatusSummarized,
	StatusMerging,
	StatusCompleted,
	StatusAwaitingOperator,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusAcquiring:   {},
	StatusSegmenting:  {},
	StatusSummarizing: {},
	StatusMerging:     {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// stageRollbackTargets maps each processing status to the durable status the
// job returns to when its stage is interrupted or retried. Resuming from the
// rollback target re-runs the stage; stage caches make the re-run cheap.
var stageRollbackTargets = map[Status]Status{
	StatusAcquiring:   StatusPending,
	StatusSegmenting:  StatusAcquired,
	StatusSummarizing: StatusSegmented,
	StatusMerging:     StatusSummarized,
}

// RollbackTarget returns the stage-start status for a processing status.
func RollbackTarget(status Status) (Status, bool) {
	target, ok := stageRollbackTargets[status]
	return target, ok
}

// Job represents one summarization request persisted in SQLite.
type Job struct {
	ID          int64
	Source      string
	Mode        string
	SlideSource string
	Principal   string
	Status      Status

	ContentFP     string
	MediaPath     string
	MediaDuration time.Duration
	HasTranscript bool
	HasSlides     bool
	SlidesTrunc   bool
	SegmentsJSON  string
	DegradedJSON  string

	FinalDocument string

	ErrorMessage  string
	PendingReason string
	BlockedStatus Status

	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string

	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the job's lifecycle.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// Degraded lists the optional inputs this job proceeded without.
func (j Job) Degraded() []string {
	if strings.TrimSpace(j.DegradedJSON) == "" {
		return nil
	}
	var reasons []string
	if err := json.Unmarshal([]byte(j.DegradedJSON), &reasons); err != nil {
		return nil
	}
	return reasons
}

// AddDegraded records that an optional input failed non-fatally.
func (j *Job) AddDegraded(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	reasons := append(j.Degraded(), reason)
	data, err := json.Marshal(reasons)
	if err != nil {
		return
	}
	j.DegradedJSON = string(data)
}

// SetProgress updates all three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressStage = "Failed"
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.LastHeartbeat = nil
}

// SetAwaitingOperator parks the job pending an explicit operator decision,
// remembering which stage it was blocked in so resolve can resume there.
func (j *Job) SetAwaitingOperator(reason string) {
	j.BlockedStatus = j.Status
	j.Status = StatusAwaitingOperator
	j.PendingReason = reason
	j.ProgressStage = "Awaiting operator"
	j.ProgressMessage = reason
	j.LastHeartbeat = nil
}

// PendingDetail returns the most specific pending reason for status queries.
func (j Job) PendingDetail() string {
	switch {
	case j.Status == StatusAwaitingOperator && j.PendingReason != "":
		return j.PendingReason
	case j.ErrorMessage != "":
		return j.ErrorMessage
	case j.ProgressMessage != "":
		return j.ProgressMessage
	default:
		return string(j.Status)
	}
}
