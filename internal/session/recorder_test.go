package session_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"caster/internal/capture"
	"caster/internal/logging"
	"caster/internal/session"
	"caster/internal/transport"
)

type fakeStream struct {
	segments chan []byte
	ended    chan struct{}
	endOnce  sync.Once
	mu       sync.Mutex
	closed   bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		segments: make(chan []byte, 16),
		ended:    make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.segments:
		return data, nil
	case <-s.ended:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Pause() error  { return nil }
func (s *fakeStream) Resume() error { return nil }

func (s *fakeStream) Ended() <-chan struct{} { return s.ended }

func (s *fakeStream) end() { s.endOnce.Do(func() { close(s.ended) }) }

func (s *fakeStream) Close() error {
	s.end()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (s *fakeSource) Open(ctx context.Context, opts capture.Options) (capture.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeConn struct {
	mu          sync.Mutex
	writes      []transport.Message
	segmentErrs int
	inbox       chan transport.Message
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan transport.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (transport.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return transport.Message{}, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(msg transport.Message) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Type == transport.TypeSegment && c.segmentErrs > 0 {
		c.segmentErrs--
		return errors.New("write failed")
	}
	c.writes = append(c.writes, msg)
	return nil
}

// failSegments makes the next n segment writes fail; other message types
// still go through, as on a link that drops mid-upload.
func (c *fakeConn) failSegments(n int) {
	c.mu.Lock()
	c.segmentErrs = n
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written(msgType transport.MessageType) []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Message
	for _, msg := range c.writes {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	return d.conn, nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestRecorder(t *testing.T) (*session.Recorder, *fakeStream, *fakeConn) {
	t.Helper()
	stream := newFakeStream()
	conn := newFakeConn()
	cfg := transport.Config{
		IdleHeartbeat:     time.Minute,
		ActiveHeartbeat:   time.Minute,
		MissedThreshold:   3,
		ReconnectAttempts: 2,
		ReconnectBase:     time.Millisecond,
		ReconnectCap:      5 * time.Millisecond,
		CleanupAckTimeout: 50 * time.Millisecond,
	}
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	return session.NewRecorderWithDialer(cfg, &fakeSource{stream: stream}, &fakeDialer{conn: conn}, identity, logging.NewNop()), stream, conn
}

func TestStartStreamsSegmentsInOrder(t *testing.T) {
	recorder, stream, conn := newTestRecorder(t)

	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := recorder.Status()
	if status.State != capture.StateRecording {
		t.Fatalf("state = %s, want recording", status.State)
	}
	if !strings.HasSuffix(status.Filename, ".webm") {
		t.Fatalf("filename = %q, want .webm suffix", status.Filename)
	}

	if idents := conn.written(transport.TypeIdentify); len(idents) == 0 {
		t.Fatal("identity never announced")
	}

	stream.segments <- []byte("one")
	stream.segments <- []byte("two")
	stream.segments <- []byte("three")
	waitFor(t, func() bool { return len(conn.written(transport.TypeSegment)) == 3 }, "segments")

	for i, msg := range conn.written(transport.TypeSegment) {
		if msg.Seq != i {
			t.Fatalf("segment %d has seq %d", i, msg.Seq)
		}
		if msg.Filename != status.Filename {
			t.Fatalf("segment filename = %q, want %q", msg.Filename, status.Filename)
		}
	}
}

func TestStartSurfacesPermissionDenied(t *testing.T) {
	conn := newFakeConn()
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	recorder := session.NewRecorderWithDialer(transport.Config{}, &fakeSource{err: capture.ErrPermissionDenied}, &fakeDialer{conn: conn}, identity, logging.NewNop())

	err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen})
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if got := recorder.Status().State; got != capture.StateIdle {
		t.Fatalf("state after denied start = %s, want idle", got)
	}
}

func TestStopRequestsProcessingAndWaits(t *testing.T) {
	recorder, _, conn := newTestRecorder(t)
	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	filename := recorder.Status().Filename

	recorder.Stop()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")
	if got := conn.written(transport.TypeRequestProcessing)[0].Filename; got != filename {
		t.Fatalf("processing request filename = %q, want %q", got, filename)
	}
	if !recorder.Status().Processing {
		t.Fatal("recorder not marked processing after stop")
	}

	conn.inbox <- transport.Message{Type: transport.TypeProcessed, Filename: filename}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := recorder.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome == nil || !outcome.Completed || outcome.Filename != filename {
		t.Fatalf("outcome = %+v, want completed %s", outcome, filename)
	}
}

func TestTrackEndedStopsAndRequestsProcessing(t *testing.T) {
	recorder, stream, conn := newTestRecorder(t)
	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeTab}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Out-of-band surface revocation: the session must wind down and hand
	// the file off without an explicit Stop call.
	stream.end()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")
	waitFor(t, func() bool { return recorder.Status().State == capture.StateIdle }, "idle state")
	if !stream.isClosed() {
		t.Fatal("capture stream not released after track ended")
	}
}

func TestProcessingFailureSurfacesMessage(t *testing.T) {
	recorder, _, conn := newTestRecorder(t)
	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	filename := recorder.Status().Filename
	recorder.Stop()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")

	conn.inbox <- transport.Message{Type: transport.TypeProcessingError, Filename: filename, Error: "summarization failed"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := recorder.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome == nil || outcome.Completed || outcome.Message != "summarization failed" {
		t.Fatalf("outcome = %+v, want failure with message", outcome)
	}
}

func TestCloseRefusedWhileProcessingOutstanding(t *testing.T) {
	recorder, _, conn := newTestRecorder(t)
	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	filename := recorder.Status().Filename
	recorder.Stop()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")

	if err := recorder.Close(context.Background()); !errors.Is(err, transport.ErrProcessingOutstanding) {
		t.Fatalf("Close during processing = %v, want ErrProcessingOutstanding", err)
	}

	conn.inbox <- transport.Message{Type: transport.TypeProcessed, Filename: filename}
	waitFor(t, func() bool { return !recorder.Status().Processing }, "terminal signal")

	done := make(chan error, 1)
	go func() { done <- recorder.Close(context.Background()) }()
	waitFor(t, func() bool { return len(conn.written(transport.TypeCleanupComplete)) == 1 }, "cleanup notify")
	conn.inbox <- transport.Message{Type: transport.TypeCleanupAcknowledged, Filename: filename}
	if err := <-done; err != nil {
		t.Fatalf("Close after terminal signal: %v", err)
	}
}

func TestTransientSegmentFailureRecoversAndHandsOff(t *testing.T) {
	recorder, stream, conn := newTestRecorder(t)
	recorder.SetDeliveryRetry(time.Millisecond, 10)
	conn.failSegments(1)

	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.segments <- []byte("one")
	stream.segments <- []byte("two")
	waitFor(t, func() bool { return len(conn.written(transport.TypeSegment)) == 2 }, "segments after retry")
	for i, msg := range conn.written(transport.TypeSegment) {
		if msg.Seq != i {
			t.Fatalf("segment %d has seq %d after retry", i, msg.Seq)
		}
	}

	recorder.Stop()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")
}

func TestPersistentSegmentFailureEndsSessionAsFailed(t *testing.T) {
	recorder, stream, conn := newTestRecorder(t)
	recorder.SetDeliveryRetry(time.Millisecond, 3)
	conn.failSegments(100)

	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	filename := recorder.Status().Filename
	stream.segments <- []byte("one")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := recorder.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome == nil || outcome.Completed || outcome.Filename != filename {
		t.Fatalf("outcome = %+v, want delivery failure for %s", outcome, filename)
	}
	if !strings.Contains(outcome.Message, "segment delivery failed") {
		t.Fatalf("outcome message = %q, want delivery failure description", outcome.Message)
	}
	if got := conn.written(transport.TypeRequestProcessing); len(got) != 0 {
		t.Fatalf("truncated upload must not be handed off for processing, got %d requests", len(got))
	}
}

func TestStartWhileProcessingRefused(t *testing.T) {
	recorder, _, conn := newTestRecorder(t)
	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	recorder.Stop()
	waitFor(t, func() bool { return len(conn.written(transport.TypeRequestProcessing)) == 1 }, "processing request")

	if err := recorder.Start(context.Background(), session.Options{CaptureType: capture.TypeScreen}); err == nil {
		t.Fatal("Start during processing succeeded, want refusal")
	}
}
