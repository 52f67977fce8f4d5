package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"caster/internal/logging"
)

// State reflects the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrProcessingOutstanding is returned when a disconnect is refused because a
// processing request has not reached a terminal signal yet.
var ErrProcessingOutstanding = errors.New("transport: processing outstanding, disconnect refused")

// ErrNotConnected is returned when a send is attempted without a connection.
var ErrNotConnected = errors.New("transport: not connected")

// Config tunes channel liveness and reconnection behavior.
type Config struct {
	// IdleHeartbeat is the probe cadence while no job is outstanding.
	IdleHeartbeat time.Duration
	// ActiveHeartbeat is the tightened cadence while needsProcessing is true.
	ActiveHeartbeat time.Duration
	// MissedThreshold is the consecutive unacknowledged probe count that
	// forces an explicit reconnect.
	MissedThreshold int
	// ReconnectAttempts bounds the backoff ramp before the degraded
	// connection-lost notice fires. Reconnection keeps going
	// opportunistically afterward while a job is outstanding.
	ReconnectAttempts int
	// ReconnectBase and ReconnectCap shape the backoff: attempt n waits
	// min(n*ReconnectBase, ReconnectCap).
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	// CleanupAckTimeout bounds the cleanup handshake during teardown.
	CleanupAckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleHeartbeat <= 0 {
		c.IdleHeartbeat = 30 * time.Second
	}
	if c.ActiveHeartbeat <= 0 {
		c.ActiveHeartbeat = 10 * time.Second
	}
	if c.MissedThreshold <= 0 {
		c.MissedThreshold = 3
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 5 * time.Second
	}
	if c.CleanupAckTimeout <= 0 {
		c.CleanupAckTimeout = 5 * time.Second
	}
	return c
}

// Callbacks notify the channel owner of terminal and degraded events. All
// callbacks are invoked off the channel lock.
type Callbacks struct {
	// Processed fires when the server confirms a recording finished processing.
	Processed func(filename string)
	// ProcessingError fires when the server reports a terminal failure.
	ProcessingError func(filename, message string)
	// ConnectionLost fires once per outage after the bounded reconnect ramp
	// is exhausted. The channel keeps retrying opportunistically afterward.
	ConnectionLost func(err error)
}

// Channel is a persistent duplex connection to the ingest daemon. It is
// owned explicitly by its creator and its lifetime is tied to the
// needsProcessing flag, not to any UI surface.
type Channel struct {
	cfg       Config
	dialer    Dialer
	callbacks Callbacks
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	identity        Identity
	conn            Conn
	gen             int
	needsProcessing bool
	outstanding     string
	finished        string
	missed          int
	reconnecting    bool
	closed          bool
	cleanupAck      chan struct{}
	hbKick          chan struct{}
}

// NewChannel constructs a channel. Connect must be called before use.
func NewChannel(cfg Config, dialer Dialer, callbacks Callbacks, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:       cfg.withDefaults(),
		dialer:    dialer,
		callbacks: callbacks,
		logger:    logging.NewComponentLogger(logger, "transport"),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		hbKick:    make(chan struct{}, 1),
	}
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NeedsProcessing reports whether a processing request is outstanding.
func (c *Channel) NeedsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsProcessing
}

// Connect opens the channel and announces identity. Calling Connect on an
// already-connected channel re-announces identity, which keeps the call
// idempotent and safe after any reconnect.
func (c *Channel) Connect(ctx context.Context, identity Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("transport: channel closed")
	}
	c.identity = identity
	if c.conn != nil {
		err := c.writeLocked(identifyMessage(identity))
		c.mu.Unlock()
		return err
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("transport: connect: %w", err)
	}
	c.install(conn)
	return nil
}

// install adopts a freshly dialed connection, announces identity, re-queries
// any outstanding job, and starts the background loops.
func (c *Channel) install(conn Conn) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = StateConnected
	c.missed = 0
	identity := c.identity
	outstanding := c.outstanding

	if err := c.writeLocked(identifyMessage(identity)); err != nil {
		c.logger.Warn("identity announce failed", logging.Error(err))
	}
	if outstanding != "" {
		if err := c.writeLocked(Message{Type: TypeStatusQuery, Filename: outstanding}); err != nil {
			c.logger.Warn("status re-query failed", logging.Error(err))
		}
	}
	c.mu.Unlock()

	go c.readLoop(gen, conn)
	go c.heartbeatLoop(gen)
	c.kickHeartbeat()
}

// SendSegment forwards one captured segment. Segments are written in call
// order over the single connection, which preserves capture order end to end.
func (c *Channel) SendSegment(filename string, seq int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	msg := Message{
		Type:     TypeSegment,
		Filename: filename,
		Seq:      seq,
		Data:     data,
	}
	if err := c.writeLocked(msg); err != nil {
		return fmt.Errorf("transport: send segment %d: %w", seq, err)
	}
	return nil
}

// RequestProcessing asks the server to process a finished recording. It sets
// needsProcessing, which blocks teardown until a terminal signal arrives.
func (c *Channel) RequestProcessing(filename string, identity Identity) error {
	c.mu.Lock()
	if c.outstanding != "" {
		c.mu.Unlock()
		return fmt.Errorf("transport: processing already requested for %s", c.outstanding)
	}
	c.needsProcessing = true
	c.outstanding = filename
	c.finished = ""
	err := c.writeLocked(Message{
		Type:        TypeRequestProcessing,
		Filename:    filename,
		UserID:      identity.UserID,
		WorkspaceID: identity.WorkspaceID,
	})
	c.mu.Unlock()

	c.kickHeartbeat()
	if err != nil {
		// The flag stays set: reconnection will re-query and re-issue the
		// request, so the job is not lost with the connection.
		c.maybeReconnect()
		return fmt.Errorf("transport: request processing: %w", err)
	}
	return nil
}

// Disconnect tears the channel down. While needsProcessing is true this is a
// loud no-op: the recording would be lost, so the call is refused and logged.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.needsProcessing {
		outstanding := c.outstanding
		c.mu.Unlock()
		c.logger.Warn("disconnect refused while processing outstanding",
			logging.String("filename", outstanding),
			logging.String(logging.FieldEventType, "disconnect_refused"),
			logging.String(logging.FieldImpact, "channel stays up so the recording is not lost"),
			logging.String(logging.FieldErrorHint, "wait for the processed or processing_error signal"),
		)
		return ErrProcessingOutstanding
	}

	finished := c.finished
	var ack chan struct{}
	if finished != "" && c.conn != nil {
		ack = make(chan struct{})
		c.cleanupAck = ack
		if err := c.writeLocked(Message{Type: TypeCleanupComplete, Filename: finished}); err != nil {
			c.logger.Warn("cleanup notify failed", logging.Error(err))
			ack = nil
			c.cleanupAck = nil
		}
	}
	c.mu.Unlock()

	if ack != nil {
		select {
		case <-ack:
		case <-time.After(c.cfg.CleanupAckTimeout):
			// Not fatal: local resources are released regardless.
			c.logger.Warn("cleanup acknowledgement timed out",
				logging.String("filename", finished),
				logging.String(logging.FieldEventType, "cleanup_ack_timeout"),
				logging.String(logging.FieldImpact, "server-side staging cleanup may lag"),
				logging.String(logging.FieldErrorHint, "the ingest daemon prunes stale staging files on its own"),
			)
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.finished = ""
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) writeLocked(msg Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(msg)
}

func identifyMessage(identity Identity) Message {
	return Message{
		Type:        TypeIdentify,
		UserID:      identity.UserID,
		WorkspaceID: identity.WorkspaceID,
	}
}

func (c *Channel) kickHeartbeat() {
	select {
	case c.hbKick <- struct{}{}:
	default:
	}
}

// readLoop dispatches server messages until the connection drops.
func (c *Channel) readLoop(gen int, conn Conn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Message) {
	switch msg.Type {
	case TypeUserIdentified:
		c.logger.Debug("identity acknowledged")
	case TypeHeartbeatAck:
		c.mu.Lock()
		c.missed = 0
		c.mu.Unlock()
	case TypeProcessed:
		c.finish(msg.Filename, "")
	case TypeProcessingError:
		message := msg.Error
		if message == "" {
			message = "processing failed"
		}
		c.finish(msg.Filename, message)
	case TypeStatus:
		c.handleStatus(msg)
	case TypeCleanupAcknowledged:
		c.mu.Lock()
		ack := c.cleanupAck
		c.cleanupAck = nil
		c.mu.Unlock()
		if ack != nil {
			close(ack)
		}
	default:
		c.logger.Debug("unhandled message", logging.String("type", string(msg.Type)))
	}
}

// handleStatus resolves a post-reconnect status query. Terminal statuses are
// equivalent to the signals that were missed during the outage; an unknown
// filename means the original request never arrived, so it is re-issued.
func (c *Channel) handleStatus(msg Message) {
	c.mu.Lock()
	outstanding := c.outstanding
	identity := c.identity
	c.mu.Unlock()
	if outstanding == "" || msg.Filename != outstanding {
		return
	}
	switch msg.Status {
	case "completed":
		c.finish(msg.Filename, "")
	case "failed":
		message := msg.Error
		if message == "" {
			message = "processing failed"
		}
		c.finish(msg.Filename, message)
	case "unknown":
		c.mu.Lock()
		err := c.writeLocked(Message{
			Type:        TypeRequestProcessing,
			Filename:    outstanding,
			UserID:      identity.UserID,
			WorkspaceID: identity.WorkspaceID,
		})
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("processing re-request failed", logging.Error(err))
		}
	}
}

// finish clears needsProcessing and notifies the owner. Only after this may
// the channel be torn down.
func (c *Channel) finish(filename, errMessage string) {
	c.mu.Lock()
	if c.outstanding == "" || (filename != "" && filename != c.outstanding) {
		c.mu.Unlock()
		return
	}
	if filename == "" {
		filename = c.outstanding
	}
	c.needsProcessing = false
	c.outstanding = ""
	c.finished = filename
	c.mu.Unlock()

	c.kickHeartbeat()
	if errMessage == "" {
		c.logger.Info("processing complete", logging.String("filename", filename))
		if c.callbacks.Processed != nil {
			c.callbacks.Processed(filename)
		}
		return
	}
	c.logger.Warn("processing failed",
		logging.String("filename", filename),
		logging.String("error", errMessage),
	)
	if c.callbacks.ProcessingError != nil {
		c.callbacks.ProcessingError(filename, errMessage)
	}
}

// handleDrop reacts to an unexpected connection loss.
func (c *Channel) handleDrop(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.state = StateDisconnected
	needs := c.needsProcessing
	c.mu.Unlock()

	if needs {
		c.logger.Warn("connection dropped with processing outstanding",
			logging.Error(err),
			logging.String(logging.FieldEventType, "transport_drop"),
			logging.String(logging.FieldImpact, "reconnecting to preserve the in-flight recording"),
			logging.String(logging.FieldErrorHint, "check the ingest daemon if reconnects keep failing"),
		)
		c.maybeReconnect()
	} else {
		c.logger.Info("connection closed", logging.Error(err))
	}
}

// maybeReconnect starts the single-flight reconnect loop.
func (c *Channel) maybeReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.state = StateConnecting
	c.mu.Unlock()
	go c.reconnectLoop()
}

func (c *Channel) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.mu.Unlock()
			return
		}
		needs := c.needsProcessing
		c.mu.Unlock()

		attempt++
		delay := time.Duration(attempt) * c.cfg.ReconnectBase
		if delay > c.cfg.ReconnectCap {
			delay = c.cfg.ReconnectCap
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.ReconnectCap+30*time.Second)
		conn, err := c.dialer.Dial(dialCtx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", logging.Int("attempt", attempt))
			c.install(conn)
			return
		}

		if attempt == c.cfg.ReconnectAttempts {
			// Degraded notice, not surrender: while a job is outstanding the
			// loop keeps trying at the capped interval.
			c.logger.Warn("reconnect attempts exhausted",
				logging.Int("attempts", attempt),
				logging.Error(err),
				logging.String(logging.FieldEventType, "transport_degraded"),
				logging.String(logging.FieldImpact, "connection lost; recording delivery is stalled"),
				logging.String(logging.FieldErrorHint, "verify the ingest daemon is running and reachable"),
			)
			if c.callbacks.ConnectionLost != nil {
				c.callbacks.ConnectionLost(err)
			}
		}
		if attempt >= c.cfg.ReconnectAttempts && !needs {
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		}
	}
}

// heartbeatLoop emits liveness probes. The cadence tightens while a job is
// outstanding, and a run of unacknowledged probes forces a reconnect rather
// than waiting out the transport's own timers.
func (c *Channel) heartbeatLoop(gen int) {
	for {
		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		interval := c.cfg.IdleHeartbeat
		if c.needsProcessing {
			interval = c.cfg.ActiveHeartbeat
		}
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return
		case <-c.hbKick:
			continue
		case <-time.After(interval):
		}

		c.mu.Lock()
		if c.closed || gen != c.gen || c.conn == nil {
			c.mu.Unlock()
			return
		}
		c.missed++
		missed := c.missed
		msg := Message{
			Type:      TypeHeartbeat,
			Timestamp: time.Now().UnixMilli(),
			Filename:  c.outstanding,
		}
		writeErr := c.writeLocked(msg)
		threshold := c.cfg.MissedThreshold
		c.mu.Unlock()

		if writeErr != nil {
			c.handleDrop(gen, fmt.Errorf("heartbeat write: %w", writeErr))
			return
		}
		if missed > threshold {
			c.logger.Warn("heartbeat acknowledgements missed, forcing reconnect",
				logging.Int("missed", missed),
				logging.String(logging.FieldEventType, "heartbeat_stall"),
				logging.String(logging.FieldImpact, "connection presumed dead"),
				logging.String(logging.FieldErrorHint, "network path to the ingest daemon may be broken"),
			)
			c.handleDrop(gen, errors.New("transport: heartbeat acknowledgements missed"))
			return
		}
	}
}
