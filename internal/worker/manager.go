package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"caster/internal/config"
	"caster/internal/logging"
	"caster/internal/notifications"
	"caster/internal/recordings"
	"caster/internal/services"
)

// Processor runs one recording through the processing pipeline.
type Processor interface {
	Process(ctx context.Context, rec *recordings.Recording) error
}

// Manager coordinates queue processing for uploaded recordings.
type Manager struct {
	cfg       *config.Config
	store     *recordings.Store
	processor Processor
	notifier  notifications.Service
	logger    *slog.Logger
	heartbeat *HeartbeatMonitor

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	maxAttempts        int
	retryBackoff       time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	publisher func(*recordings.Recording)
}

// NewManager constructs a queue manager.
func NewManager(cfg *config.Config, store *recordings.Store, processor Processor, notifier notifications.Service, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		processor: processor,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "worker"),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		maxAttempts:        cfg.Workflow.MaxAttempts,
		retryBackoff:       time.Duration(cfg.Workflow.RetryBackoffSeconds) * time.Second,
	}
}

// SetPublisher registers the hook that pushes terminal results to connected
// clients. The ingest server provides it when the daemon assembles both.
func (m *Manager) SetPublisher(fn func(*recordings.Recording)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = fn
}

func (m *Manager) publish(rec *recordings.Recording) {
	m.mu.Lock()
	fn := m.publisher
	m.mu.Unlock()
	if fn != nil {
		fn(rec)
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// LastError returns the most recent queue-level failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil {
			logger.Warn("reclaim stale recordings failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check recordings database access"),
			)
		}

		rec, err := m.store.NextForStatuses(ctx, recordings.StatusPending)
		if err != nil {
			m.setLastError(err)
			logger.Error("failed to fetch next recording",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check recordings database access"),
			)
			m.waitOrShutdown(ctx, m.errorRetryInterval)
			continue
		}
		if rec == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.processRecording(ctx, rec); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// processRecording claims one recording and runs the pipeline under a
// heartbeat. The final store write always happens: success completes the
// recording inside the processor, and every failure path lands in SetFailed.
func (m *Manager) processRecording(ctx context.Context, rec *recordings.Recording) error {
	ctx = services.WithMediaID(ctx, rec.MediaID)
	logger := m.logger.With(
		logging.String(logging.FieldMediaID, rec.MediaID),
		logging.Int("attempt", rec.Attempts+1),
	)

	now := time.Now().UTC()
	rec.Attempts++
	rec.LastHeartbeat = &now
	if err := m.store.Update(ctx, rec); err != nil {
		m.setLastError(err)
		return fmt.Errorf("claim recording: %w", err)
	}

	logger.Info("processing started", logging.String(logging.FieldEventType, "processing_start"))
	start := time.Now()

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, rec.ID)

	procErr := m.processor.Process(ctx, rec)
	hbCancel()
	hbWG.Wait()

	if procErr == nil {
		logger.Info("processing finished",
			logging.String(logging.FieldEventType, "processing_complete"),
			logging.String("title", rec.Title),
			logging.Duration("duration", time.Since(start)),
		)
		m.publish(rec)
		if err := m.notifier.NotifyProcessingCompleted(ctx, rec.Title); err != nil {
			logger.Warn("completion notification failed", logging.Error(err))
		}
		return nil
	}

	if errors.Is(procErr, context.Canceled) {
		logger.Debug("processing interrupted by shutdown")
		return procErr
	}

	m.handleFailure(ctx, logger, rec, procErr)
	return procErr
}

func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, rec *recordings.Recording, procErr error) {
	m.setLastError(procErr)
	message := strings.TrimSpace(procErr.Error())
	rec.SetFailed(message)
	if err := m.store.Update(ctx, rec); err != nil {
		logger.Error("failed to persist processing failure", logging.Error(err))
	}

	if rec.Attempts < m.maxAttempts {
		delay := m.retryDelay(rec.Attempts)
		logger.Warn("processing failed, retry scheduled",
			logging.Error(procErr),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldEventType, "processing_retry"),
			logging.String(logging.FieldImpact, "recording delayed, not lost"),
			logging.String(logging.FieldErrorHint, "persistent failures become terminal after the attempt limit"),
		)
		if err := m.notifier.NotifyRetryScheduled(ctx, rec.MediaID, rec.Attempts, m.maxAttempts); err != nil {
			logger.Warn("retry notification failed", logging.Error(err))
		}
		m.scheduleRetry(ctx, rec.ID, rec.Attempts, delay)
		return
	}

	logger.Error("processing failed permanently",
		logging.Error(procErr),
		logging.Int("attempts", rec.Attempts),
		logging.String(logging.FieldEventType, "processing_failed"),
		logging.String(logging.FieldImpact, "recording will not be processed without a manual retry"),
		logging.String(logging.FieldErrorHint, "inspect the error, then retry from the CLI"),
	)
	m.publish(rec)
	if err := m.notifier.NotifyError(ctx, procErr, rec.MediaID); err != nil {
		logger.Warn("error notification failed", logging.Error(err))
	}
}

// retryDelay doubles per attempt from the configured base.
func (m *Manager) retryDelay(attempt int) time.Duration {
	delay := m.retryBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// scheduleRetry returns the recording to pending after the backoff elapses.
// The row stays failed in the meantime so status queries reflect reality.
func (m *Manager) scheduleRetry(ctx context.Context, recordingID int64, attempts int, delay time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		rec, err := m.store.GetByID(ctx, recordingID)
		if err != nil || rec == nil {
			return
		}
		// A manual retry or removal may have raced the backoff timer.
		if rec.Status != recordings.StatusFailed || rec.Attempts != attempts {
			return
		}
		rec.SetStage(recordings.StatusPending, fmt.Sprintf("Retrying (attempt %d of %d)", attempts+1, m.maxAttempts))
		if err := m.store.Update(ctx, rec); err != nil {
			m.logger.Warn("failed to requeue recording for retry", logging.Error(err))
		}
	}()
}
