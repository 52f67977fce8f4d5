package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FFmpegSource captures the screen with ffmpeg (x11grab video, pulse audio).
type FFmpegSource struct {
	Binary          string
	Display         string
	Microphone      string
	SegmentInterval time.Duration
}

// NewFFmpegSource constructs a source using the given ffmpeg binary.
func NewFFmpegSource(binary, display, microphone string, segmentInterval time.Duration) *FFmpegSource {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if strings.TrimSpace(display) == "" {
		display = ":0.0"
	}
	if segmentInterval <= 0 {
		segmentInterval = time.Second
	}
	return &FFmpegSource{
		Binary:          binary,
		Display:         display,
		Microphone:      microphone,
		SegmentInterval: segmentInterval,
	}
}

// Open launches ffmpeg and returns a stream slicing its output into timed
// segments. A missing binary maps to ErrUnsupported; ffmpeg exiting
// immediately (typically no access to the display or audio device) maps to
// ErrPermissionDenied.
func (s *FFmpegSource) Open(ctx context.Context, opts Options) (Stream, error) {
	if _, err := exec.LookPath(s.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrUnsupported, s.Binary)
	}

	args := []string{
		"-f", "x11grab",
		"-framerate", "25",
		"-i", s.Display,
	}
	if opts.MicrophoneEnabled {
		mic := s.Microphone
		if mic == "" {
			mic = "default"
		}
		args = append(args, "-f", "pulse", "-i", mic)
	}
	args = append(args,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-f", "webm",
		"pipe:1",
	)

	cmd := exec.Command(s.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	stream := &ffmpegStream{
		cmd:      cmd,
		stdout:   bufio.NewReaderSize(stdout, 1<<16),
		interval: s.SegmentInterval,
		ended:    make(chan struct{}),
		segments: make(chan []byte, 8),
	}
	go stream.slice()
	go stream.waitExit(ctx)

	// Give ffmpeg a moment to fail fast on permission problems.
	select {
	case <-stream.ended:
		_ = stream.Close()
		return nil, fmt.Errorf("%w: ffmpeg exited immediately", ErrPermissionDenied)
	case <-time.After(200 * time.Millisecond):
	}
	return stream, nil
}

type ffmpegStream struct {
	cmd      *exec.Cmd
	stdout   *bufio.Reader
	interval time.Duration
	segments chan []byte

	endOnce   sync.Once
	ended     chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// slice accumulates raw ffmpeg output into one segment per interval.
func (f *ffmpegStream) slice() {
	defer close(f.segments)
	buf := make([]byte, 32*1024)
	var pending []byte
	deadline := time.Now().Add(f.interval)
	for {
		n, err := f.stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		if time.Now().After(deadline) && len(pending) > 0 {
			seg := make([]byte, len(pending))
			copy(seg, pending)
			pending = pending[:0]
			deadline = time.Now().Add(f.interval)
			select {
			case f.segments <- seg:
			case <-f.ended:
				return
			}
		}
		if err != nil {
			if len(pending) > 0 {
				seg := make([]byte, len(pending))
				copy(seg, pending)
				select {
				case f.segments <- seg:
				default:
				}
			}
			return
		}
	}
}

func (f *ffmpegStream) waitExit(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		_ = f.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	f.endOnce.Do(func() { close(f.ended) })
}

func (f *ffmpegStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case seg, ok := <-f.segments:
		if !ok {
			return nil, io.EOF
		}
		return seg, nil
	case <-f.ended:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *ffmpegStream) Pause() error {
	return f.signal(syscall.SIGSTOP)
}

func (f *ffmpegStream) Resume() error {
	return f.signal(syscall.SIGCONT)
}

func (f *ffmpegStream) signal(sig syscall.Signal) error {
	if f.cmd.Process == nil {
		return errors.New("capture: ffmpeg not running")
	}
	return f.cmd.Process.Signal(sig)
}

func (f *ffmpegStream) Ended() <-chan struct{} {
	return f.ended
}

func (f *ffmpegStream) Close() error {
	f.closeOnce.Do(func() {
		if f.cmd.Process != nil {
			// Ask ffmpeg to finalize the container, then reap it.
			_ = f.cmd.Process.Signal(syscall.SIGINT)
		}
		f.endOnce.Do(func() { close(f.ended) })
	})
	return f.closeErr
}
