package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"lectern/internal/fingerprint"
	"lectern/internal/keypool"
	"lectern/internal/pipeline"
	"lectern/internal/queue"
	"lectern/internal/services"
)

// SubmitRequest describes a new summarization job.
type SubmitRequest struct {
	Source      string `json:"source"`
	Mode        string `json:"mode"`
	SlideSource string `json:"slideSource"`
	Principal   string `json:"principal"`
}

// Coordinator is the slice of pipeline.Manager the service needs.
type Coordinator interface {
	Status(ctx context.Context) pipeline.StatusSummary
	RequestCancel(ctx context.Context, id int64, reason string) (bool, error)
}

// Service implements the operator surface over the store, the pipeline
// manager, and the credential pools.
type Service struct {
	store   *queue.Store
	manager Coordinator
	keys    *keypool.Manager
}

// NewService constructs the operator service.
func NewService(store *queue.Store, manager Coordinator, keys *keypool.Manager) *Service {
	return &Service{store: store, manager: manager, keys: keys}
}

// Submit validates and enqueues a job, returning its view.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (JobView, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return JobView{}, services.Wrap(services.ErrValidation, "api", "submit", "source must not be empty", nil)
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "":
		mode = queue.ModeLecture
	case queue.ModeLecture, queue.ModeMeeting:
	default:
		return JobView{}, services.Wrap(services.ErrValidation, "api", "submit",
			fmt.Sprintf("mode %q must be %q or %q", mode, queue.ModeLecture, queue.ModeMeeting), nil)
	}
	principal := strings.TrimSpace(req.Principal)
	if principal == "" {
		principal = "default"
	}

	// Resubmitting a source that is already in flight returns the existing
	// job instead of queueing duplicate work. Terminal jobs do not block a
	// fresh run; the stage caches make that run cheap.
	contentFP := fingerprint.Content(source)
	if existing, err := s.store.FindByFingerprint(ctx, contentFP); err != nil {
		return JobView{}, err
	} else if existing != nil && !queue.IsTerminalStatus(existing.Status) && existing.Mode == mode {
		return FromJob(existing), nil
	}

	job, err := s.store.NewJob(ctx, source, mode, strings.TrimSpace(req.SlideSource), principal)
	if err != nil {
		return JobView{}, err
	}
	job.ContentFP = contentFP
	if err := s.store.Update(ctx, job); err != nil {
		return JobView{}, err
	}
	return FromJob(job), nil
}

// Status fetches one job including its most specific pending reason.
func (s *Service) Status(ctx context.Context, id int64) (JobView, error) {
	job, err := s.jobByID(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job), nil
}

// Result returns the final document of a completed job.
func (s *Service) Result(ctx context.Context, id int64) (string, error) {
	job, err := s.jobByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != queue.StatusCompleted {
		return "", services.Wrap(services.ErrValidation, "api", "result",
			fmt.Sprintf("job %d is %s, not completed", id, job.Status), nil)
	}
	if job.FinalDocument == "" {
		return "", services.Wrap(services.ErrNotFound, "api", "result",
			fmt.Sprintf("job %d completed without a stored document", id), nil)
	}
	return job.FinalDocument, nil
}

// Resolve applies an operator decision to a blocked job. change_key installs
// the new credential on the job's principal before resuming.
func (s *Service) Resolve(ctx context.Context, id int64, choice, newKey string) (JobView, error) {
	job, err := s.jobByID(ctx, id)
	if err != nil {
		return JobView{}, err
	}

	switch strings.ToLower(strings.TrimSpace(choice)) {
	case queue.ChoiceCancel:
		if _, err := s.manager.RequestCancel(ctx, id, "cancelled by operator decision"); err != nil {
			return JobView{}, err
		}
	case queue.ChoiceRetry:
		if err := s.resume(ctx, job); err != nil {
			return JobView{}, err
		}
	case queue.ChoiceChangeKey:
		if strings.TrimSpace(newKey) == "" {
			return JobView{}, services.Wrap(services.ErrValidation, "api", "resolve",
				"change_key requires a new credential", nil)
		}
		if _, err := s.keys.Add(job.Principal, strings.TrimSpace(newKey)); err != nil {
			return JobView{}, err
		}
		if err := s.resume(ctx, job); err != nil {
			return JobView{}, err
		}
	default:
		return JobView{}, services.Wrap(services.ErrValidation, "api", "resolve",
			fmt.Sprintf("choice %q must be retry, cancel, or change_key", choice), nil)
	}

	updated, err := s.jobByID(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(updated), nil
}

func (s *Service) resume(ctx context.Context, job *queue.Job) error {
	if job.Status == queue.StatusAwaitingOperator {
		resumed, err := s.store.ResumeBlocked(ctx, job.ID)
		if err != nil {
			return err
		}
		if !resumed {
			return services.Wrap(services.ErrValidation, "api", "resolve",
				fmt.Sprintf("job %d could not be resumed", job.ID), nil)
		}
		return nil
	}
	if job.Status == queue.StatusFailed {
		_, err := s.store.RetryFailed(ctx, job.ID)
		return err
	}
	return services.Wrap(services.ErrValidation, "api", "resolve",
		fmt.Sprintf("job %d is %s; only blocked or failed jobs can be resumed", job.ID, job.Status), nil)
}

// List returns job views filtered by status names.
func (s *Service) List(ctx context.Context, statusNames []string) ([]JobView, error) {
	statuses := make([]queue.Status, 0, len(statusNames))
	for _, name := range statusNames {
		status, ok := queue.ParseStatus(name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list",
				fmt.Sprintf("unknown status %q", name), nil)
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns job counts keyed by status string.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

// RetryFailed resets the named failed jobs (all of them when ids is empty).
func (s *Service) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return s.store.RetryFailed(ctx, ids...)
}

// Clear removes jobs; scope is "all", "failed", or "completed".
func (s *Service) Clear(ctx context.Context, scope string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", "all":
		return s.store.Clear(ctx)
	case "failed":
		return s.store.ClearFailed(ctx)
	case "completed":
		return s.store.ClearCompleted(ctx)
	default:
		return 0, services.Wrap(services.ErrValidation, "api", "clear",
			fmt.Sprintf("scope %q must be all, failed, or completed", scope), nil)
	}
}

// Cancel requests cancellation of a job.
func (s *Service) Cancel(ctx context.Context, id int64) (bool, error) {
	return s.manager.RequestCancel(ctx, id, "cancelled by operator")
}

// PipelineStatus reports pipeline diagnostics.
func (s *Service) PipelineStatus(ctx context.Context) PipelineStatus {
	status := FromStatusSummary(s.manager.Status(ctx))
	sort.Slice(status.StageHealth, func(i, j int) bool {
		return status.StageHealth[i].Name < status.StageHealth[j].Name
	})
	return status
}

// KeysAdd installs a credential into a principal's pool.
func (s *Service) KeysAdd(principal, key string) (CredentialView, error) {
	principal = normalizePrincipal(principal)
	cred, err := s.keys.Add(principal, strings.TrimSpace(key))
	if err != nil {
		return CredentialView{}, err
	}
	return credentialView(cred), nil
}

// KeysRemove removes a credential by id, full key, or masked form.
func (s *Service) KeysRemove(principal, ref string) error {
	return s.keys.Remove(normalizePrincipal(principal), strings.TrimSpace(ref))
}

// KeysList returns the masked credentials of a principal's pool.
func (s *Service) KeysList(principal string) []CredentialView {
	creds := s.keys.List(normalizePrincipal(principal))
	views := make([]CredentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView(cred))
	}
	return views
}

func credentialView(cred keypool.Credential) CredentialView {
	view := CredentialView{
		ID:          cred.ID,
		MaskedKey:   keypool.Mask(cred.Key),
		UsageCount:  cred.UsageCount,
		CoolingDown: !cred.Usable(time.Now()),
		AddedAt:     formatOptionalTime(cred.AddedAt),
	}
	if !cred.CooldownUntil.IsZero() {
		view.CooldownUntil = formatOptionalTime(cred.CooldownUntil)
	}
	return view
}

func normalizePrincipal(principal string) string {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return "default"
	}
	return principal
}

func (s *Service) jobByID(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "lookup",
			fmt.Sprintf("job %d not found", id), nil)
	}
	return job, nil
}
