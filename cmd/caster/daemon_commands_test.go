package main

import (
	"context"
	"testing"

	"caster/internal/ipc"
	"caster/internal/testsupport"
)

func TestStatusCommandOffline(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "daemon offline")
	requireContains(t, out, "Queue is empty")
}

func TestStatusCommandWithQueue(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	rec := testsupport.Reserve(t, env.store, "media-1", "lecture.webm")
	rec.SetFailed("out of disk")
	if err := env.store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testsupport.Reserve(t, env.store, "media-2", "seminar.webm")

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "pending")
	requireContains(t, out, "failed")
	requireContains(t, out, "total")
}

func TestBuildQueueStatusRows(t *testing.T) {
	rows := buildQueueStatusRows(ipc.QueueHealth{Total: 7, Pending: 3, Failed: 1, Completed: 3})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	last := rows[len(rows)-1]
	if last[0] != "total" || last[1] != "7" {
		t.Fatalf("expected total row last, got %#v", last)
	}
}
