package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
)

type stubStage struct {
	name       string
	prepareErr error
	executeErr error
	executeFn  func(context.Context, *queue.Job) error
	health     stage.Health

	mu       sync.Mutex
	executed int
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(_ context.Context, _ *queue.Job) error {
	return s.prepareErr
}

func (s *stubStage) Execute(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()
	if s.executeFn != nil {
		return s.executeFn(ctx, job)
	}
	return s.executeErr
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return s.health
}

func (s *stubStage) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

func newManager(t *testing.T, stages pipeline.StageSet) (*pipeline.Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(stages)
	return mgr, store
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		default:
		}
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestManagerProcessesJobThroughAllStages(t *testing.T) {
	acquirer := newStubStage("acquirer")
	segmenter := newStubStage("segmenter")
	summarizer := newStubStage("summarizer")
	merger := newStubStage("merger")
	mgr, store := newManager(t, pipeline.StageSet{
		Acquirer:   acquirer,
		Segmenter:  segmenter,
		Summarizer: summarizer,
		Merger:     merger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := testsupport.NewJob(t, store, "https://youtu.be/dQw4w9WgXcQ")
	done := waitForStatus(t, store, job.ID, queue.StatusCompleted)

	if done.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want 100", done.ProgressPercent)
	}
	for _, stg := range []*stubStage{acquirer, segmenter, summarizer, merger} {
		if stg.executions() != 1 {
			t.Fatalf("stage %s executed %d times, want 1", stg.name, stg.executions())
		}
	}
}

func TestManagerStageFailureMarksFailed(t *testing.T) {
	segmenter := newStubStage("segmenter")
	segmenter.executeErr = fmt.Errorf("ffmpeg exploded")
	mgr, store := newManager(t, pipeline.StageSet{
		Acquirer:   newStubStage("acquirer"),
		Segmenter:  segmenter,
		Summarizer: newStubStage("summarizer"),
		Merger:     newStubStage("merger"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := testsupport.NewJob(t, store, "recording.mp4")
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)

	if failed.ErrorMessage == "" {
		t.Fatal("expected error message on failed job")
	}
	if failed.ProgressStage != "Failed" {
		t.Fatalf("progress stage = %q", failed.ProgressStage)
	}
}

func TestManagerExhaustionParksAwaitingOperator(t *testing.T) {
	summarizer := newStubStage("summarizer")
	summarizer.executeErr = services.Wrap(services.ErrExhausted, "summarizing", "summarize segments",
		"segment 2 blocked after 5 attempts", nil)
	mgr, store := newManager(t, pipeline.StageSet{
		Acquirer:   newStubStage("acquirer"),
		Segmenter:  newStubStage("segmenter"),
		Summarizer: summarizer,
		Merger:     newStubStage("merger"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := testsupport.NewJob(t, store, "https://youtu.be/dQw4w9WgXcQ")
	blocked := waitForStatus(t, store, job.ID, queue.StatusAwaitingOperator)

	if blocked.BlockedStatus != queue.StatusSummarizing {
		t.Fatalf("BlockedStatus = %s, want summarizing", blocked.BlockedStatus)
	}
	if !strings.Contains(blocked.PendingReason, "segment 2 blocked") {
		t.Fatalf("PendingReason = %q", blocked.PendingReason)
	}
}

func TestManagerRequestCancelInFlight(t *testing.T) {
	started := make(chan struct{})
	acquirer := newStubStage("acquirer")
	acquirer.executeFn = func(ctx context.Context, _ *queue.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(pipeline.StageSet{
		Acquirer:   acquirer,
		Segmenter:  newStubStage("segmenter"),
		Summarizer: newStubStage("summarizer"),
		Merger:     newStubStage("merger"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := testsupport.NewJob(t, store, "https://youtu.be/dQw4w9WgXcQ")

	select {
	case <-started:
	case <-time.After(30 * time.Second):
		t.Fatal("acquirer never started")
	}

	stagingDir := filepath.Join(cfg.Paths.StagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}

	ok, err := mgr.RequestCancel(context.Background(), job.ID, "operator changed their mind")
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !ok {
		t.Fatal("RequestCancel = false for in-flight job")
	}

	cancelled := waitForStatus(t, store, job.ID, queue.StatusCancelled)
	if cancelled.ProgressMessage != "operator changed their mind" {
		t.Fatalf("progress message = %q", cancelled.ProgressMessage)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Fatalf("staging dir survived cancellation: stat err = %v", err)
	}
}

func TestManagerRequestCancelIdleJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(pipeline.StageSet{
		Acquirer:   newStubStage("acquirer"),
		Segmenter:  newStubStage("segmenter"),
		Summarizer: newStubStage("summarizer"),
		Merger:     newStubStage("merger"),
	})

	job := testsupport.NewJob(t, store, "https://youtu.be/dQw4w9WgXcQ")
	stagingDir := filepath.Join(cfg.Paths.StagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}

	ok, err := mgr.RequestCancel(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !ok {
		t.Fatal("RequestCancel = false for pending job")
	}

	updated, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Fatalf("staging dir survived cancellation: stat err = %v", err)
	}

	ok, err = mgr.RequestCancel(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("RequestCancel (terminal): %v", err)
	}
	if ok {
		t.Fatal("RequestCancel = true for already-cancelled job")
	}
}

func TestManagerStatusIncludesStageHealth(t *testing.T) {
	merger := newStubStage("merger")
	merger.health = stage.Unhealthy("merger", "results directory unavailable")
	mgr, _ := newManager(t, pipeline.StageSet{
		Acquirer:   newStubStage("acquirer"),
		Segmenter:  newStubStage("segmenter"),
		Summarizer: newStubStage("summarizer"),
		Merger:     merger,
	})

	status := mgr.Status(context.Background())
	if status.Running {
		t.Fatal("Running = true before Start")
	}
	health, ok := status.StageHealth["merger"]
	if !ok {
		t.Fatal("merger health missing from status")
	}
	if health.Ready {
		t.Fatalf("merger health = %+v, want not ready", health)
	}
	if health.Detail != "results directory unavailable" {
		t.Fatalf("detail = %q", health.Detail)
	}
}

func TestManagerStartRequiresStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, store, logging.NewNop())
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without configured stages")
	}
}

func TestManagerPrepareFailureMarksFailed(t *testing.T) {
	acquirer := newStubStage("acquirer")
	acquirer.prepareErr = services.Wrap(services.ErrValidation, "acquiring", "prepare", "unsupported source", nil)
	mgr, store := newManager(t, pipeline.StageSet{
		Acquirer:   acquirer,
		Segmenter:  newStubStage("segmenter"),
		Summarizer: newStubStage("summarizer"),
		Merger:     newStubStage("merger"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := testsupport.NewJob(t, store, "gopher://weird")
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if !strings.Contains(failed.ErrorMessage, "unsupported source") {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
	if acquirer.executions() != 0 {
		t.Fatal("Execute ran despite Prepare failure")
	}
}
