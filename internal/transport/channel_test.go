package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"caster/internal/logging"
	"caster/internal/transport"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    []transport.Message
	inbox     chan transport.Message
	closed    chan struct{}
	closeOnce sync.Once
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
	c.writes = append(c.writes, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(msg transport.Message) {
	c.inbox <- msg
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
	mu    sync.Mutex
	queue []*fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) > 0 {
		conn := d.queue[0]
		d.queue = d.queue[1:]
		return conn, nil
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.queue = nil
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
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

func testConfig() transport.Config {
	return transport.Config{
		IdleHeartbeat:     200 * time.Millisecond,
		ActiveHeartbeat:   50 * time.Millisecond,
		MissedThreshold:   2,
		ReconnectAttempts: 3,
		ReconnectBase:     2 * time.Millisecond,
		ReconnectCap:      10 * time.Millisecond,
		CleanupAckTimeout: 50 * time.Millisecond,
	}
}

func TestDisconnectRefusedWhileProcessingOutstanding(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}, err: errors.New("no more conns")}

	var processedMu sync.Mutex
	var processed []string
	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{
		Processed: func(filename string) {
			processedMu.Lock()
			processed = append(processed, filename)
			processedMu.Unlock()
		},
	}, logging.NewNop())

	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-1.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}

	if err := ch.Disconnect(context.Background()); !errors.Is(err, transport.ErrProcessingOutstanding) {
		t.Fatalf("Disconnect during processing = %v, want ErrProcessingOutstanding", err)
	}
	if ch.State() != transport.StateConnected {
		t.Fatalf("state after refused disconnect = %s, want connected", ch.State())
	}

	conn.send(transport.Message{Type: transport.TypeProcessed, Filename: "rec-1.webm"})
	waitFor(t, func() bool { return !ch.NeedsProcessing() }, "terminal signal")

	processedMu.Lock()
	got := append([]string(nil), processed...)
	processedMu.Unlock()
	if len(got) != 1 || got[0] != "rec-1.webm" {
		t.Fatalf("processed callbacks = %v, want [rec-1.webm]", got)
	}

	// Teardown now proceeds and completes the cleanup handshake.
	done := make(chan error, 1)
	go func() { done <- ch.Disconnect(context.Background()) }()
	waitFor(t, func() bool { return len(conn.written(transport.TypeCleanupComplete)) == 1 }, "cleanup notify")
	conn.send(transport.Message{Type: transport.TypeCleanupAcknowledged, Filename: "rec-1.webm"})
	if err := <-done; err != nil {
		t.Fatalf("Disconnect after terminal signal: %v", err)
	}
}

func TestReconnectReidentifiesAndRecoversOutstandingJob(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}, err: errors.New("no more conns")}

	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-2.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}

	// Server-side drop. The outstanding job forces an automatic reconnect.
	conn1.Close()
	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "reconnect dial")
	waitFor(t, func() bool { return ch.State() == transport.StateConnected }, "reconnected state")

	waitFor(t, func() bool { return len(conn2.written(transport.TypeIdentify)) == 1 }, "re-identify")
	idents := conn2.written(transport.TypeIdentify)
	if idents[0].UserID != "user-1" || idents[0].WorkspaceID != "ws-1" {
		t.Fatalf("re-identify carried %q/%q, want user-1/ws-1", idents[0].UserID, idents[0].WorkspaceID)
	}
	waitFor(t, func() bool { return len(conn2.written(transport.TypeStatusQuery)) == 1 }, "status query")
	if got := conn2.written(transport.TypeStatusQuery)[0].Filename; got != "rec-2.webm" {
		t.Fatalf("status query filename = %q, want rec-2.webm", got)
	}
	if !ch.NeedsProcessing() {
		t.Fatal("needsProcessing cleared by reconnect; must persist until a terminal signal")
	}

	// The server never saw the request, so the channel re-issues it.
	conn2.send(transport.Message{Type: transport.TypeStatus, Filename: "rec-2.webm", Status: "unknown"})
	waitFor(t, func() bool { return len(conn2.written(transport.TypeRequestProcessing)) == 1 }, "re-request")

	conn2.send(transport.Message{Type: transport.TypeProcessed, Filename: "rec-2.webm"})
	waitFor(t, func() bool { return !ch.NeedsProcessing() }, "terminal signal")
}

func TestStatusReplayDeliversMissedTerminalSignal(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}, err: errors.New("no more conns")}

	var failures []string
	var mu sync.Mutex
	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{
		ProcessingError: func(filename, message string) {
			mu.Lock()
			failures = append(failures, filename+": "+message)
			mu.Unlock()
		},
	}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-3.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}

	conn1.Close()
	waitFor(t, func() bool { return len(conn2.written(transport.TypeStatusQuery)) == 1 }, "status query")

	// Processing finished (badly) during the outage. The status reply stands
	// in for the processing_error signal that was missed.
	conn2.send(transport.Message{Type: transport.TypeStatus, Filename: "rec-3.webm", Status: "failed", Error: "transcription unavailable"})
	waitFor(t, func() bool { return !ch.NeedsProcessing() }, "terminal signal")

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || failures[0] != "rec-3.webm: transcription unavailable" {
		t.Fatalf("failure callbacks = %v", failures)
	}
}

func TestMissedHeartbeatsForceReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}, err: errors.New("no more conns")}

	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Active cadence: without acknowledgements the missed counter crosses the
	// threshold and the channel abandons the connection on its own.
	if err := ch.RequestProcessing("rec-4.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}

	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "forced reconnect")
	if len(conn1.written(transport.TypeHeartbeat)) < 3 {
		t.Fatalf("heartbeats before reconnect = %d, want at least 3", len(conn1.written(transport.TypeHeartbeat)))
	}
}

func TestHeartbeatAckKeepsConnectionAlive(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}, err: errors.New("no more conns")}

	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-5.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}

	// Acknowledge every probe for long enough that an unacknowledged channel
	// would have reconnected several times over.
	deadline := time.Now().Add(400 * time.Millisecond)
	seen := 0
	for time.Now().Before(deadline) {
		if hb := len(conn.written(transport.TypeHeartbeat)); hb > seen {
			for i := seen; i < hb; i++ {
				conn.send(transport.Message{Type: transport.TypeHeartbeatAck})
			}
			seen = hb
		}
		time.Sleep(2 * time.Millisecond)
	}
	if seen < 3 {
		t.Fatalf("heartbeats observed = %d, want ongoing cadence", seen)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1 (no forced reconnect)", dialer.dialCount())
	}
	if ch.State() != transport.StateConnected {
		t.Fatalf("state = %s, want connected", ch.State())
	}
}

func TestSegmentsArriveInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}, err: errors.New("no more conns")}

	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for seq := 0; seq < 5; seq++ {
		if err := ch.SendSegment("rec-6.webm", seq, []byte{byte(seq)}); err != nil {
			t.Fatalf("SendSegment %d: %v", seq, err)
		}
	}
	segments := conn.written(transport.TypeSegment)
	if len(segments) != 5 {
		t.Fatalf("segments written = %d, want 5", len(segments))
	}
	for i, seg := range segments {
		if seg.Seq != i {
			t.Fatalf("segment %d has seq %d", i, seg.Seq)
		}
	}
}

func TestSendSegmentWhileDisconnected(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("unreachable")}
	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	if err := ch.SendSegment("rec-7.webm", 0, []byte("x")); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("SendSegment without connection = %v, want ErrNotConnected", err)
	}
}

func TestCleanupAckTimeoutIsNonFatal(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}, err: errors.New("no more conns")}

	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-8.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}
	conn.send(transport.Message{Type: transport.TypeProcessed, Filename: "rec-8.webm"})
	waitFor(t, func() bool { return !ch.NeedsProcessing() }, "terminal signal")

	// The server never acknowledges cleanup; teardown must still finish.
	start := time.Now()
	if err := ch.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Disconnect blocked for %s despite cleanup timeout", elapsed)
	}
}

func TestConnectionLostFiresAfterBoundedAttempts(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{queue: []*fakeConn{conn}, err: errors.New("unreachable")}

	lost := make(chan error, 1)
	ch := transport.NewChannel(testConfig(), dialer, transport.Callbacks{
		ConnectionLost: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
	}, logging.NewNop())
	identity := transport.Identity{UserID: "user-1", WorkspaceID: "ws-1"}
	if err := ch.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.RequestProcessing("rec-9.webm", identity); err != nil {
		t.Fatalf("RequestProcessing: %v", err)
	}
	conn.Close()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection-lost notice never fired")
	}
	// The bounded ramp is exhausted but the outstanding job keeps the
	// reconnect loop alive opportunistically.
	waitFor(t, func() bool { return dialer.dialCount() > 5 }, "opportunistic retries")
	if !ch.NeedsProcessing() {
		t.Fatal("needsProcessing dropped during outage")
	}
}
