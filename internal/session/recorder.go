package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"caster/internal/capture"
	"caster/internal/logging"
	"caster/internal/transport"
)

// Options configure one recording session.
type Options struct {
	CaptureType       capture.Type
	MicrophoneEnabled bool
}

// Outcome is the terminal result of a recording's server-side processing.
type Outcome struct {
	Filename  string
	Completed bool
	// Message carries the failure description when Completed is false.
	Message string
}

// Status is a point-in-time snapshot of the recorder.
type Status struct {
	State      capture.State
	Filename   string
	Duration   time.Duration
	Processing bool
	Transport  transport.State
	Outcome    *Outcome
	CaptureErr error
}

// Recorder drives recording sessions end to end. One recording may be in
// flight at a time; the transport channel persists across sessions.
type Recorder struct {
	source  capture.Source
	channel *transport.Channel
	clock   capture.Clock
	logger  *slog.Logger

	identity transport.Identity

	retryInterval time.Duration
	retryAttempts int

	mu         sync.Mutex
	controller *capture.Controller
	filename   string
	processing bool
	outcome    *Outcome
	done       chan struct{}
}

// NewRecorder wires a capture source to a transport channel. The channel's
// terminal callbacks must be routed through BindChannel before use; the
// helper NewRecorderWithDialer does the full assembly.
func NewRecorder(source capture.Source, channel *transport.Channel, identity transport.Identity, clock capture.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = capture.SystemClock()
	}
	return &Recorder{
		source:   source,
		channel:  channel,
		clock:    clock,
		logger:   logging.NewComponentLogger(logger, "session"),
		identity: identity,
	}
}

// NewRecorderWithDialer assembles a recorder and its channel in one step,
// routing the channel's terminal signals back into the recorder.
func NewRecorderWithDialer(cfg transport.Config, source capture.Source, dialer transport.Dialer, identity transport.Identity, logger *slog.Logger) *Recorder {
	r := &Recorder{
		source:   source,
		clock:    capture.SystemClock(),
		logger:   logging.NewComponentLogger(logger, "session"),
		identity: identity,
	}
	r.channel = transport.NewChannel(cfg, dialer, transport.Callbacks{
		Processed:       r.handleProcessed,
		ProcessingError: r.handleProcessingError,
		ConnectionLost:  r.handleConnectionLost,
	}, logger)
	return r
}

// SetDeliveryRetry overrides the segment delivery retry policy applied to
// each session's capture controller. Must be set before Start.
func (r *Recorder) SetDeliveryRetry(interval time.Duration, attempts int) {
	r.retryInterval = interval
	r.retryAttempts = attempts
}

// Callbacks returns the terminal handlers for wiring an externally built
// channel to this recorder.
func (r *Recorder) Callbacks() transport.Callbacks {
	return transport.Callbacks{
		Processed:       r.handleProcessed,
		ProcessingError: r.handleProcessingError,
		ConnectionLost:  r.handleConnectionLost,
	}
}

// Start begins a new recording. The connection is established first so that
// permission failures and unreachable servers surface before any capture
// state exists.
func (r *Recorder) Start(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.controller != nil && r.controller.State() != capture.StateIdle {
		r.mu.Unlock()
		return capture.ErrAlreadyRecording
	}
	if r.processing {
		r.mu.Unlock()
		return errors.New("session: previous recording still processing")
	}
	filename := uuid.NewString() + ".webm"
	r.filename = filename
	r.outcome = nil
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.channel.Connect(ctx, r.identity); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	sink := &channelSink{channel: r.channel, filename: filename}
	controller := capture.NewController(r.source, sink, r.clock, r.logger)
	if r.retryInterval > 0 || r.retryAttempts > 0 {
		controller.SetDeliveryRetry(r.retryInterval, r.retryAttempts)
	}
	controller.OnStopped(func(reason capture.StopReason) {
		r.handleStopped(filename, reason)
	})

	r.mu.Lock()
	r.controller = controller
	r.mu.Unlock()

	captureOpts := capture.Options{
		CaptureType:       opts.CaptureType,
		AudioEnabled:      true,
		MicrophoneEnabled: opts.MicrophoneEnabled,
	}
	if err := controller.Start(ctx, captureOpts); err != nil {
		r.mu.Lock()
		r.controller = nil
		r.filename = ""
		r.mu.Unlock()
		return err
	}

	r.logger.Info("recording started",
		logging.String("filename", filename),
		logging.String("capture_type", string(opts.CaptureType)),
		logging.Bool("microphone", opts.MicrophoneEnabled),
	)
	return nil
}

// Pause suspends the active recording. A no-op unless recording.
func (r *Recorder) Pause() {
	if c := r.activeController(); c != nil {
		c.Pause()
	}
}

// Resume continues a paused recording. A no-op unless paused.
func (r *Recorder) Resume() {
	if c := r.activeController(); c != nil {
		c.Resume()
	}
}

// Stop ends the active recording and requests server-side processing.
func (r *Recorder) Stop() {
	if c := r.activeController(); c != nil {
		c.Stop()
	}
}

func (r *Recorder) activeController() *capture.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

// handleStopped runs once per session when capture ends, whether by request
// or because the track ended out-of-band. The processing request is the
// point of no return: from here the channel refuses teardown until the
// server reports a terminal result.
func (r *Recorder) handleStopped(filename string, reason capture.StopReason) {
	if reason == capture.StopSendFailed {
		// Delivery exhausted its retries, so the staged upload is
		// incomplete. Processing a truncated artifact would look like
		// success; surface the failure instead.
		message := "segment delivery failed"
		r.mu.Lock()
		controller := r.controller
		r.mu.Unlock()
		if controller != nil {
			if err := controller.Err(); err != nil {
				message = fmt.Sprintf("segment delivery failed: %v", err)
			}
		}
		r.logger.Error("recording failed",
			logging.String("filename", filename),
			logging.String("reason", string(reason)),
		)
		r.settle(&Outcome{Filename: filename, Completed: false, Message: message})
		return
	}

	r.mu.Lock()
	r.processing = true
	r.mu.Unlock()

	r.logger.Info("recording stopped",
		logging.String("filename", filename),
		logging.String("reason", string(reason)),
	)
	if err := r.channel.RequestProcessing(filename, r.identity); err != nil {
		// The channel retains the request across reconnects, so this is a
		// delivery delay rather than a lost recording.
		r.logger.Warn("processing request deferred", logging.Error(err))
	}
}

func (r *Recorder) handleProcessed(filename string) {
	r.settle(&Outcome{Filename: filename, Completed: true})
}

func (r *Recorder) handleProcessingError(filename, message string) {
	r.settle(&Outcome{Filename: filename, Completed: false, Message: message})
}

func (r *Recorder) handleConnectionLost(err error) {
	r.logger.Warn("server unreachable",
		logging.Error(err),
		logging.String(logging.FieldEventType, "connection_lost"),
		logging.String(logging.FieldImpact, "recording delivery is stalled until the server returns"),
		logging.String(logging.FieldErrorHint, "check that the ingest daemon is running"),
	)
}

func (r *Recorder) settle(outcome *Outcome) {
	r.mu.Lock()
	r.processing = false
	r.outcome = outcome
	done := r.done
	r.done = nil
	r.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Wait blocks until the current recording reaches a terminal processing
// result. It returns immediately when nothing is in flight.
func (r *Recorder) Wait(ctx context.Context) (*Outcome, error) {
	r.mu.Lock()
	done := r.done
	outcome := r.outcome
	r.mu.Unlock()
	if done == nil {
		return outcome, nil
	}
	select {
	case <-done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the current session state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	controller := r.controller
	status := Status{
		Filename:   r.filename,
		Processing: r.processing,
		Outcome:    r.outcome,
	}
	r.mu.Unlock()

	status.Transport = r.channel.State()
	if controller != nil {
		status.State = controller.State()
		status.Duration = controller.Duration()
		status.CaptureErr = controller.Err()
	} else {
		status.State = capture.StateIdle
	}
	return status
}

// Close stops any active recording and tears the channel down. While a
// processing request is outstanding the channel refuses to disconnect and
// Close returns transport.ErrProcessingOutstanding.
func (r *Recorder) Close(ctx context.Context) error {
	r.Stop()
	return r.channel.Disconnect(ctx)
}

// channelSink forwards capture segments onto the transport in arrival order.
type channelSink struct {
	channel  *transport.Channel
	filename string
}

func (s *channelSink) AcceptSegment(seg capture.Segment) error {
	return s.channel.SendSegment(s.filename, seg.Seq, seg.Data)
}
