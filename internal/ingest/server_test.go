package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"caster/internal/config"
	"caster/internal/ingest"
	"caster/internal/logging"
	"caster/internal/recordings"
	"caster/internal/transport"
)

func newTestServer(t *testing.T) (*ingest.Server, *recordings.Store, *config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	defaults := config.Default()
	cfg := &defaults
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	store, err := recordings.OpenPath(filepath.Join(dir, "recordings.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := ingest.NewServer(cfg, store, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return srv, store, cfg, wsURL
}

func dialWS(t *testing.T, url string) transport.Conn {
	t.Helper()
	dialer := &transport.WebSocketDialer{URL: url, DialTimeout: 5 * time.Second}
	conn, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains replies until one of the wanted type arrives.
func readUntil(t *testing.T, conn transport.Conn, msgType transport.MessageType) transport.Message {
	t.Helper()
	done := make(chan transport.Message, 1)
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg.Type == msgType {
				done <- msg
				return
			}
		}
	}()
	select {
	case msg := <-done:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", msgType)
		return transport.Message{}
	}
}

func waitForRecording(t *testing.T, store *recordings.Store, mediaID string) *recordings.Recording {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.GetByMediaID(context.Background(), mediaID)
		if err != nil {
			t.Fatalf("GetByMediaID: %v", err)
		}
		if rec != nil {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recording %s never reserved", mediaID)
	return nil
}

func TestHealthz(t *testing.T) {
	_, _, _, wsURL := newTestServer(t)
	healthURL := "http" + strings.TrimPrefix(strings.TrimSuffix(wsURL, "/ws"), "ws") + "/healthz"
	resp, err := http.Get(healthURL)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestSegmentsBuildStagingFileAndReserveJob(t *testing.T) {
	_, store, cfg, wsURL := newTestServer(t)
	conn := dialWS(t, wsURL)

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeIdentify, UserID: "user-1", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("identify: %v", err)
	}
	readUntil(t, conn, transport.TypeUserIdentified)

	for seq, chunk := range []string{"alpha-", "beta-", "gamma"} {
		err := conn.WriteMessage(transport.Message{
			Type:     transport.TypeSegment,
			Filename: "rec-a.webm",
			Seq:      seq,
			Data:     []byte(chunk),
		})
		if err != nil {
			t.Fatalf("segment %d: %v", seq, err)
		}
	}
	if err := conn.WriteMessage(transport.Message{Type: transport.TypeRequestProcessing, Filename: "rec-a.webm"}); err != nil {
		t.Fatalf("request processing: %v", err)
	}

	rec := waitForRecording(t, store, "rec-a.webm")
	if rec.Status != recordings.StatusPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	if rec.UserID != "user-1" || rec.WorkspaceID != "ws-1" {
		t.Fatalf("identity = %s/%s, want user-1/ws-1", rec.UserID, rec.WorkspaceID)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Paths.StagingDir, "rec-a.webm"))
	if err != nil {
		t.Fatalf("read staging file: %v", err)
	}
	if got := string(data); got != "alpha-beta-gamma" {
		t.Fatalf("staging content = %q, want segments in capture order", got)
	}
}

func TestRequestProcessingIsIdempotentAcrossReconnects(t *testing.T) {
	_, store, _, wsURL := newTestServer(t)

	first := dialWS(t, wsURL)
	if err := first.WriteMessage(transport.Message{Type: transport.TypeRequestProcessing, Filename: "rec-b.webm", UserID: "user-1", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("request processing: %v", err)
	}
	rec := waitForRecording(t, store, "rec-b.webm")
	first.Close()

	// A reconnecting client re-issues the request; no duplicate job appears.
	second := dialWS(t, wsURL)
	if err := second.WriteMessage(transport.Message{Type: transport.TypeRequestProcessing, Filename: "rec-b.webm", UserID: "user-1", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("re-request processing: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].ID != rec.ID {
		t.Fatalf("recordings after re-request = %d, want the single original job", len(all))
	}
}

func TestHeartbeatAcknowledged(t *testing.T) {
	_, _, _, wsURL := newTestServer(t)
	conn := dialWS(t, wsURL)

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeHeartbeat, Timestamp: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	readUntil(t, conn, transport.TypeHeartbeatAck)
}

func TestStatusQueryReportsUnknownAndTerminalStates(t *testing.T) {
	_, store, cfg, wsURL := newTestServer(t)
	conn := dialWS(t, wsURL)

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeStatusQuery, Filename: "missing.webm"}); err != nil {
		t.Fatalf("status query: %v", err)
	}
	if msg := readUntil(t, conn, transport.TypeStatus); msg.Status != "unknown" {
		t.Fatalf("status for missing recording = %q, want unknown", msg.Status)
	}

	ctx := context.Background()
	rec, err := store.Reserve(ctx, "rec-c.webm", "user-1", "ws-1", "src", "art")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	rec.Attempts = cfg.Workflow.MaxAttempts
	rec.SetFailed("transcription unavailable")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeStatusQuery, Filename: "rec-c.webm"}); err != nil {
		t.Fatalf("status query: %v", err)
	}
	msg := readUntil(t, conn, transport.TypeStatus)
	if msg.Status != string(recordings.StatusFailed) {
		t.Fatalf("status = %q, want failed", msg.Status)
	}
	if msg.Error != "transcription unavailable" {
		t.Fatalf("status error = %q", msg.Error)
	}
}

func TestStatusQueryReportsScheduledRetryAsInFlight(t *testing.T) {
	srv, store, cfg, wsURL := newTestServer(t)

	// A first attempt failed but the retry budget is not exhausted; the row
	// sits at failed until the backoff returns it to the queue.
	ctx := context.Background()
	rec, err := store.Reserve(ctx, "rec-f.webm", "user-1", "ws-1", "src", "art")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	rec.Attempts = 1
	rec.SetFailed("transient llm outage")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.Workflow.MaxAttempts <= rec.Attempts {
		t.Fatalf("fixture needs retry headroom, max attempts = %d", cfg.Workflow.MaxAttempts)
	}

	conn := dialWS(t, wsURL)
	if err := conn.WriteMessage(transport.Message{Type: transport.TypeStatusQuery, Filename: "rec-f.webm"}); err != nil {
		t.Fatalf("status query: %v", err)
	}
	msg := readUntil(t, conn, transport.TypeStatus)
	if msg.Status != string(recordings.StatusPending) {
		t.Fatalf("status during retry backoff = %q, want pending", msg.Status)
	}
	if msg.Error != "" {
		t.Fatalf("in-flight status must not carry an error, got %q", msg.Error)
	}

	// The querying client keeps its watch, so the eventual success after the
	// retry still reaches it as a push.
	rec.SetCompleted("transcript", "summary", "Title", []string{"keyword"})
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	srv.Publish(rec)
	if got := readUntil(t, conn, transport.TypeProcessed); got.Filename != "rec-f.webm" {
		t.Fatalf("processed filename = %q, want rec-f.webm", got.Filename)
	}
}

func TestPublishPushesTerminalSignalToWatcher(t *testing.T) {
	srv, store, _, wsURL := newTestServer(t)
	conn := dialWS(t, wsURL)

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeRequestProcessing, Filename: "rec-d.webm", UserID: "user-1", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("request processing: %v", err)
	}
	rec := waitForRecording(t, store, "rec-d.webm")

	ctx := context.Background()
	rec.SetCompleted("transcript", "summary", "Title", []string{"keyword"})
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	srv.Publish(rec)

	if msg := readUntil(t, conn, transport.TypeProcessed); msg.Filename != "rec-d.webm" {
		t.Fatalf("processed filename = %q, want rec-d.webm", msg.Filename)
	}
}

func TestCleanupRemovesStagedUpload(t *testing.T) {
	_, _, cfg, wsURL := newTestServer(t)
	conn := dialWS(t, wsURL)

	if err := conn.WriteMessage(transport.Message{Type: transport.TypeSegment, Filename: "rec-e.webm", Seq: 0, Data: []byte("payload")}); err != nil {
		t.Fatalf("segment: %v", err)
	}
	if err := conn.WriteMessage(transport.Message{Type: transport.TypeRequestProcessing, Filename: "rec-e.webm", UserID: "u", WorkspaceID: "w"}); err != nil {
		t.Fatalf("request processing: %v", err)
	}
	if err := conn.WriteMessage(transport.Message{Type: transport.TypeCleanupComplete, Filename: "rec-e.webm"}); err != nil {
		t.Fatalf("cleanup complete: %v", err)
	}
	readUntil(t, conn, transport.TypeCleanupAcknowledged)

	if _, err := os.Stat(filepath.Join(cfg.Paths.StagingDir, "rec-e.webm")); !os.IsNotExist(err) {
		t.Fatalf("staged upload still present after cleanup (stat err = %v)", err)
	}
}
