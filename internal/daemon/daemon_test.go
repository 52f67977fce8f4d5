package daemon_test

import (
	"context"
	"testing"

	"caster/internal/daemon"
	"caster/internal/logging"
	"caster/internal/recordings"
	"caster/internal/testsupport"
)

func TestDaemonLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	defer d.Stop()

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.PID == 0 {
		t.Fatal("expected PID in running status")
	}
	if status.IngestAddr == "" {
		t.Fatal("expected ingest address in running status")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail while running")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the daemon lock")
	}
}

func TestRetryReopensFailedRecordings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx := context.Background()
	failed := testsupport.Reserve(t, store, "media-failed", "failed.webm")
	failed.SetFailed("transcription exploded")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
	pending := testsupport.Reserve(t, store, "media-pending", "pending.webm")

	updated, err := d.Retry(ctx, nil)
	if err != nil {
		t.Fatalf("daemon.Retry: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 retried recording, got %d", updated)
	}

	reloaded, err := store.GetByID(ctx, failed.ID)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	if reloaded.Status != recordings.StatusPending {
		t.Fatalf("expected failed recording back to pending, got %s", reloaded.Status)
	}
	if reloaded.Attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", reloaded.Attempts)
	}

	// Pending rows are left alone.
	untouched, err := store.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	if untouched.Status != recordings.StatusPending {
		t.Fatalf("unexpected status for pending recording: %s", untouched.Status)
	}
}

func TestRemoveRecordingRefusesInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx := context.Background()
	rec := testsupport.Reserve(t, store, "media-busy", "busy.webm")
	rec.SetStage(recordings.StatusTranscribing, "Transcribing audio")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("store.Update: %v", err)
	}

	if err := d.RemoveRecording(ctx, rec.ID); err == nil {
		t.Fatal("expected removal of in-flight recording to be refused")
	}

	rec.SetFailed("gave up")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
	if err := d.RemoveRecording(ctx, rec.ID); err != nil {
		t.Fatalf("RemoveRecording after failure: %v", err)
	}
	gone, err := store.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	if gone != nil {
		t.Fatal("expected recording to be removed")
	}
}
