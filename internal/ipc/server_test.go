package ipc_test

import (
	"context"
	"strings"
	"testing"

	"lectern/internal/daemon"
	"lectern/internal/ipc"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/testsupport"
)

// startServer brings up a daemon (without starting its pipeline) and an IPC
// server on the test config's socket, returning a connected client.
func startServer(t *testing.T) *ipc.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t)

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	server, err := ipc.NewServer(ctx, cfg.Paths.Socket, d, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	server.Serve()
	t.Cleanup(func() { server.Close() })

	client, err := ipc.Dial(cfg.Paths.Socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSubmitStatusRoundTrip(t *testing.T) {
	client := startServer(t)

	submitted, err := client.Submit(ipc.SubmitRequest{Source: "https://youtu.be/dQw4w9WgXcQ", Mode: "meeting"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.Job.ID == 0 {
		t.Fatal("submitted job has no ID")
	}
	if submitted.Job.Mode != queue.ModeMeeting {
		t.Fatalf("mode = %q", submitted.Job.Mode)
	}

	status, err := client.Status(submitted.Job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Job.Status != string(queue.StatusPending) {
		t.Fatalf("status = %q, want pending", status.Job.Status)
	}
	if status.Job.Source != "https://youtu.be/dQw4w9WgXcQ" {
		t.Fatalf("source = %q", status.Job.Source)
	}
}

func TestSubmitValidationErrorCrossesTheWire(t *testing.T) {
	client := startServer(t)

	_, err := client.Submit(ipc.SubmitRequest{Source: "   "})
	if err == nil {
		t.Fatal("Submit succeeded with blank source")
	}
	if !strings.Contains(err.Error(), "source must not be empty") {
		t.Fatalf("err = %v, want validation detail preserved", err)
	}
}

func TestQueueOperations(t *testing.T) {
	client := startServer(t)

	if _, err := client.Submit(ipc.SubmitRequest{Source: "a.mp4"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := client.Submit(ipc.SubmitRequest{Source: "b.mp4"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	list, err := client.QueueList(nil)
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(list.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(list.Jobs))
	}

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Counts["pending"] != 2 {
		t.Fatalf("stats = %v", stats.Counts)
	}

	cancelResp, err := client.Cancel(list.Jobs[0].ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelResp.Cancelled {
		t.Fatal("Cancelled = false for pending job")
	}

	cleared, err := client.QueueClear("all")
	if err != nil {
		t.Fatalf("QueueClear: %v", err)
	}
	if cleared.Removed != 2 {
		t.Fatalf("removed = %d, want 2", cleared.Removed)
	}
}

func TestKeysOverIPC(t *testing.T) {
	client := startServer(t)

	added, err := client.KeysAdd("alice", "wire-key-abcdefgh")
	if err != nil {
		t.Fatalf("KeysAdd: %v", err)
	}
	if strings.Contains(added.Credential.MaskedKey, "wire-key-abcdefgh") {
		t.Fatal("full key leaked over the wire")
	}

	listed, err := client.KeysList("alice")
	if err != nil {
		t.Fatalf("KeysList: %v", err)
	}
	if len(listed.Credentials) != 1 {
		t.Fatalf("credentials = %d, want 1", len(listed.Credentials))
	}

	removed, err := client.KeysRemove("alice", added.Credential.ID)
	if err != nil {
		t.Fatalf("KeysRemove: %v", err)
	}
	if !removed.Removed {
		t.Fatal("Removed = false")
	}
}

func TestDaemonStatusOverIPC(t *testing.T) {
	client := startServer(t)

	status, err := client.DaemonStatus()
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if status.Running {
		t.Fatal("Running = true for a daemon that was never started")
	}
	if status.QueueDBPath == "" || status.LockPath == "" {
		t.Fatalf("paths missing from status: %+v", status)
	}
	if len(status.Pipeline.StageHealth) != 4 {
		t.Fatalf("stage health entries = %d, want 4", len(status.Pipeline.StageHealth))
	}
}
