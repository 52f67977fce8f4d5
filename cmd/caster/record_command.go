package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"caster/internal/capture"
	"caster/internal/config"
	"caster/internal/logging"
	"caster/internal/session"
	"caster/internal/transport"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var captureTypeFlag string
	var micFlag bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen and stream it to the ingest daemon",
		Long: `Record captures the screen with ffmpeg and streams segments to the
ingest daemon over a WebSocket. Recording continues until interrupted
with Ctrl-C, then the command waits for the daemon to acknowledge the
finished upload before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return fmt.Errorf("configuration unavailable")
			}

			captureType, err := parseCaptureType(captureTypeFlag)
			if err != nil {
				return err
			}

			logger, err := recordLogger(cfg)
			if err != nil {
				return err
			}

			recorder := session.NewRecorderWithDialer(
				channelConfig(cfg),
				capture.NewFFmpegSource(
					cfg.Capture.FFmpegBinary,
					cfg.Capture.Display,
					cfg.Capture.MicrophoneDevice,
					cfg.SegmentInterval(),
				),
				&transport.WebSocketDialer{
					URL:         cfg.Transport.IngestURL,
					DialTimeout: cfg.DialTimeout(),
				},
				transport.Identity{
					UserID:      cfg.Session.UserID,
					WorkspaceID: cfg.Session.WorkspaceID,
				},
				logger,
			)

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stdout := cmd.OutOrStdout()
			opts := session.Options{
				CaptureType:       captureType,
				MicrophoneEnabled: micFlag,
			}
			if err := recorder.Start(signalCtx, opts); err != nil {
				return fmt.Errorf("start recording: %w", err)
			}

			fmt.Fprintf(stdout, "Recording (%s) to %s. Press Ctrl-C to stop.\n", captureType, cfg.Transport.IngestURL)

			// Wait runs on its own context so the upload and processing
			// handshake can finish after the interrupt fires.
			waitCtx, cancel := context.WithCancel(context.Background())
			defer cancel()

			outcomeCh := make(chan *session.Outcome, 1)
			waitErrCh := make(chan error, 1)
			go func() {
				outcome, err := recorder.Wait(waitCtx)
				if err != nil {
					waitErrCh <- err
					return
				}
				outcomeCh <- outcome
			}()

			var outcome *session.Outcome
			select {
			case <-signalCtx.Done():
				stop()
				fmt.Fprintln(stdout, "Stopping recording, waiting for upload...")
				recorder.Stop()
				settleTimer := time.AfterFunc(5*time.Minute, cancel)
				defer settleTimer.Stop()
				select {
				case outcome = <-outcomeCh:
				case err := <-waitErrCh:
					closeRecorder(recorder, logger)
					return fmt.Errorf("wait for processing: %w", err)
				}
			case outcome = <-outcomeCh:
			case err := <-waitErrCh:
				closeRecorder(recorder, logger)
				return fmt.Errorf("wait for processing: %w", err)
			}

			if outcome.Completed {
				fmt.Fprintf(stdout, "Recording %s uploaded and queued for processing\n", outcome.Filename)
			} else {
				fmt.Fprintf(stdout, "Recording %s failed: %s\n", outcome.Filename, outcome.Message)
			}

			closeRecorder(recorder, logger)
			if !outcome.Completed {
				return fmt.Errorf("recording %s: %s", outcome.Filename, outcome.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&captureTypeFlag, "type", "t", string(capture.TypeScreen), "Capture type: screen, window, or tab")
	cmd.Flags().BoolVarP(&micFlag, "mic", "m", false, "Capture the microphone alongside the screen")

	return cmd
}

func parseCaptureType(value string) (capture.Type, error) {
	switch capture.Type(strings.ToLower(strings.TrimSpace(value))) {
	case capture.TypeScreen:
		return capture.TypeScreen, nil
	case capture.TypeWindow:
		return capture.TypeWindow, nil
	case capture.TypeTab:
		return capture.TypeTab, nil
	default:
		return "", fmt.Errorf("capture type %q: must be screen, window, or tab", value)
	}
}

// recordLogger writes to record.log only so transport chatter stays out of
// the terminal while a capture is running.
func recordLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "record.log")},
	})
}

func channelConfig(cfg *config.Config) transport.Config {
	return transport.Config{
		IdleHeartbeat:     cfg.IdleHeartbeat(),
		ActiveHeartbeat:   cfg.ActiveHeartbeat(),
		MissedThreshold:   cfg.Transport.MissedHeartbeatThreshold,
		ReconnectAttempts: cfg.Transport.ReconnectAttempts,
		ReconnectCap:      time.Duration(cfg.Transport.ReconnectCapSeconds) * time.Second,
		CleanupAckTimeout: time.Duration(cfg.Transport.CleanupAckSeconds) * time.Second,
	}
}

func closeRecorder(recorder *session.Recorder, logger *slog.Logger) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := recorder.Close(closeCtx); err != nil {
		logger.Warn("recorder close", logging.Error(err))
	}
}
