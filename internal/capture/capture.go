package capture

import (
	"context"
	"errors"
	"time"
)

// Type selects the capture surface.
type Type string

const (
	TypeScreen Type = "screen"
	TypeWindow Type = "window"
	TypeTab    Type = "tab"
)

// State reflects the controller lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

// StopReason explains why a capture session ended.
type StopReason string

const (
	// StopRequested means the caller invoked Stop.
	StopRequested StopReason = "requested"
	// StopTrackEnded means the capture surface was revoked out-of-band
	// (e.g. via the OS screen-share UI). Treated as an implicit stop, not
	// an error.
	StopTrackEnded StopReason = "track_ended"
	// StopSendFailed means segment delivery kept failing past the retry
	// budget. The session ends as a failure rather than dropping the rest
	// of the capture silently.
	StopSendFailed StopReason = "send_failed"
)

var (
	// ErrAlreadyRecording is returned when Start is called while a session is active.
	ErrAlreadyRecording = errors.New("capture: already recording")
	// ErrPermissionDenied is returned when the OS rejects the capture or microphone request.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrUnsupported is returned when the platform lacks capture support.
	ErrUnsupported = errors.New("capture: unsupported platform")
)

// Options configure a capture session.
type Options struct {
	CaptureType       Type
	AudioEnabled      bool
	MicrophoneEnabled bool
}

// Segment is one time-sliced chunk of the live capture stream.
type Segment struct {
	Seq  int
	Data []byte
}

// SegmentSink receives segments in capture order as they become available.
// Delivery is push-style and happens outside the controller lock.
type SegmentSink interface {
	AcceptSegment(seg Segment) error
}

// Source abstracts the OS-level capture surface.
type Source interface {
	// Open requests the capture surface (and microphone, when enabled).
	// Implementations return ErrPermissionDenied or ErrUnsupported when the
	// platform rejects the request.
	Open(ctx context.Context, opts Options) (Stream, error)
}

// Stream is a live capture producing timed segments.
type Stream interface {
	// Next blocks until the next segment is available. It returns io.EOF
	// when the stream has ended.
	Next(ctx context.Context) ([]byte, error)
	// Pause suspends segment production without releasing the surface.
	Pause() error
	// Resume continues segment production after Pause.
	Resume() error
	// Ended is closed when the capture surface is revoked out-of-band.
	Ended() <-chan struct{}
	// Close releases all capture resources. Safe to call more than once.
	Close() error
}

// Clock abstracts wall time for pause-aware duration accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
