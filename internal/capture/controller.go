package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"caster/internal/logging"
)

const (
	defaultDeliveryRetryInterval = 500 * time.Millisecond
	defaultDeliveryRetryAttempts = 60
)

// Controller owns one capture session at a time.
type Controller struct {
	source Source
	sink   SegmentSink
	clock  Clock
	logger *slog.Logger

	retryInterval time.Duration
	retryAttempts int

	mu          sync.Mutex
	state       State
	stream      Stream
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	lastErr     error
	stopReason  StopReason

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	onStopped  func(StopReason)
}

// NewController builds a controller pushing segments to sink.
func NewController(source Source, sink SegmentSink, clock Clock, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	return &Controller{
		source:        source,
		sink:          sink,
		clock:         clock,
		logger:        logging.NewComponentLogger(logger, "capture"),
		state:         StateIdle,
		retryInterval: defaultDeliveryRetryInterval,
		retryAttempts: defaultDeliveryRetryAttempts,
	}
}

// SetDeliveryRetry overrides the per-segment delivery retry policy. The
// default interval and attempt count cover the transport's full reconnect
// ramp. Must be set before Start.
func (c *Controller) SetDeliveryRetry(interval time.Duration, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interval > 0 {
		c.retryInterval = interval
	}
	if attempts > 0 {
		c.retryAttempts = attempts
	}
}

// OnStopped registers a callback fired once per session after all resources
// are released. Must be set before Start.
func (c *Controller) OnStopped(fn func(StopReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStopped = fn
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last capture error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Duration returns pause-aware elapsed time: wall time since Start minus
// every paused interval. Frozen while paused, monotonic while recording.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRecording, StateStopping:
		return c.clock.Now().Sub(c.startedAt) - c.pausedTotal
	case StatePaused:
		return c.pausedAt.Sub(c.startedAt) - c.pausedTotal
	default:
		return 0
	}
}

// Start requests the capture surface and begins segment emission. Permission
// denial and unsupported-platform errors are surfaced to the caller and leave
// the controller idle; no partial state persists.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.state = StateRecording
	c.lastErr = nil
	c.mu.Unlock()

	stream, err := c.source.Open(ctx, opts)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("capture start rejected",
			logging.Error(err),
			logging.String(logging.FieldEventType, "capture_start_rejected"),
			logging.String(logging.FieldErrorHint, "re-grant screen/microphone permission and retry"),
		)
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	now := c.clock.Now()

	c.mu.Lock()
	c.stream = stream
	c.startedAt = now
	c.pausedTotal = 0
	c.pausedAt = time.Time{}
	c.stopReason = ""
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})
	done := c.pumpDone
	c.mu.Unlock()

	c.logger.Info("capture started",
		logging.String("capture_type", string(opts.CaptureType)),
		logging.Bool("audio", opts.AudioEnabled),
		logging.Bool("microphone", opts.MicrophoneEnabled),
	)

	go c.pump(pumpCtx, stream, done)
	return nil
}

// Pause freezes the duration clock and suspends segment production. No-op
// unless the state is exactly recording.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	c.pausedAt = c.clock.Now()
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Pause(); err != nil {
			c.logger.Warn("pause capture stream failed", logging.Error(err))
		}
	}
}

// Resume continues a paused session, adding the paused interval to the
// accumulator so elapsed duration excludes it. No-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateRecording
	c.pausedTotal += c.clock.Now().Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Resume(); err != nil {
			c.logger.Warn("resume capture stream failed", logging.Error(err))
		}
	}
}

// Stop finalizes the session. The stream is drained so the last segment is
// delivered, and all capture resources are released on every exit path.
func (c *Controller) Stop() {
	c.stop(StopRequested)
}

func (c *Controller) stop(reason StopReason) {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateStopping:
		c.mu.Unlock()
		return
	}
	if c.state == StatePaused {
		// Freeze the paused interval into the accumulator so the final
		// duration excludes it.
		c.pausedTotal += c.clock.Now().Sub(c.pausedAt)
		c.pausedAt = time.Time{}
	}
	c.state = StateStopping
	c.stopReason = reason
	cancel := c.pumpCancel
	done := c.pumpDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	onStopped := c.onStopped
	c.state = StateIdle
	c.pumpCancel = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Warn("close capture stream failed", logging.Error(err))
		}
	}
	c.logger.Info("capture stopped", logging.String("reason", string(reason)))
	if onStopped != nil {
		onStopped(reason)
	}
}

// pump moves segments from the stream to the sink in capture order. A single
// goroutine per session guarantees ordering; a send failure surfaces through
// lastErr rather than dropping the segment silently.
func (c *Controller) pump(ctx context.Context, stream Stream, done chan<- struct{}) {
	defer close(done)
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Ended():
			// Surface revoked out-of-band: implicit stop, not an error.
			go c.stop(StopTrackEnded)
			return
		default:
		}

		data, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ran dry without a stop request: the surface was
				// revoked out-of-band. Implicit stop, not an error.
				go c.stop(StopTrackEnded)
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			c.recordError(err)
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := c.deliver(ctx, Segment{Seq: seq, Data: data}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.recordError(err)
			c.logger.Error("segment delivery abandoned",
				logging.Int("seq", seq),
				logging.Error(err),
				logging.String(logging.FieldEventType, "segment_delivery_failed"),
				logging.String(logging.FieldImpact, "session ends as failed; local file is preserved"),
				logging.String(logging.FieldErrorHint, "check connectivity to the ingest daemon"),
			)
			go c.stop(StopSendFailed)
			return
		}
		seq++
	}
}

// deliver pushes one segment to the sink, retrying on failure so a transport
// blip mid-reconnect does not lose the rest of the capture. Returns
// context.Canceled when the session stops during a retry wait.
func (c *Controller) deliver(ctx context.Context, seg Segment) error {
	c.mu.Lock()
	interval := c.retryInterval
	attempts := c.retryAttempts
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		lastErr = c.sink.AcceptSegment(seg)
		if lastErr == nil {
			return nil
		}
		if attempt == 0 {
			c.logger.Warn("segment delivery failed, retrying",
				logging.Int("seq", seg.Seq),
				logging.Error(lastErr),
			)
		}
	}
	return lastErr
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
