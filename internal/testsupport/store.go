package testsupport

import (
	"context"
	"testing"

	"lectern/internal/config"
	"lectern/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a lecture-mode job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, source string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), source, queue.ModeLecture, "", "")
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}

// MustUpdate persists a job, failing the test on error.
func MustUpdate(t testing.TB, store *queue.Store, job *queue.Job) {
	t.Helper()

	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
}
