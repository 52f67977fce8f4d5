package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"caster/internal/config"
	"caster/internal/ingest"
	"caster/internal/logging"
	"caster/internal/notifications"
	"caster/internal/process"
	"caster/internal/recordings"
	"caster/internal/services/llm"
	"caster/internal/services/transcriber"
	"caster/internal/worker"
)

// Daemon coordinates the ingest server and processing worker and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *recordings.Store
	manager  *worker.Manager
	ingest   *ingest.Server
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	IngestAddr   string
	Queue        recordings.HealthSummary
	LastError    string
}

// New constructs a daemon with its processing pipeline assembled from the
// configuration. The store is owned by the caller until Close.
func New(cfg *config.Config, store *recordings.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)
	summarizer := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	speech := transcriber.NewClient(transcriber.Config{
		APIKey:         cfg.Transcriber.APIKey,
		BaseURL:        cfg.Transcriber.BaseURL,
		Model:          cfg.Transcriber.Model,
		TimeoutSeconds: cfg.Transcriber.TimeoutSeconds,
	})

	processor := process.NewProcessor(cfg, store, speech, summarizer, logger)
	manager := worker.NewManager(cfg, store, processor, notifier, logger)
	server := ingest.NewServer(cfg, store, logger)
	manager.SetPublisher(server.Publish)
	server.SetReceiveHook(func(rec *recordings.Recording) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.NotifyRecordingReceived(ctx, rec.ArtifactPath); err != nil {
			logger.Warn("received notification failed", logging.Error(err))
		}
	})

	lockPath := filepath.Join(cfg.Paths.LogDir, "casterd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		ingest:   server,
		notifier: notifier,
		logPath:  filepath.Join(cfg.Paths.LogDir, "caster.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start launches the ingest server and worker and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another caster daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.ingest.Start(d.ctx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start ingest server: %w", err)
	}
	if err := d.manager.Start(d.ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.ingest.Stop(stopCtx)
		cancel()
		d.releaseStart()
		return fmt.Errorf("start worker: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("caster daemon started",
		logging.String("lock", d.lockPath),
		logging.String("ingest_addr", d.ingest.Addr()))
	return nil
}

func (d *Daemon) releaseStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing, fails any in-flight jobs so restarts see
// a consistent queue, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.ingest.Stop(ctx); err != nil {
		d.logger.Warn("ingest server shutdown failed", logging.Error(err))
	}
	d.manager.Stop()
	if failed, err := d.store.FailInFlight(ctx, recordings.DaemonStopReason); err != nil {
		d.logger.Warn("failed to close out in-flight recordings", logging.Error(err))
	} else if failed > 0 {
		d.logger.Info("in-flight recordings failed for shutdown", logging.Int64("count", failed))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("caster daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon loop is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// ListRecordings returns recordings filtered by optional statuses.
func (d *Daemon) ListRecordings(ctx context.Context, statuses []recordings.Status) ([]*recordings.Recording, error) {
	if d.store == nil {
		return nil, errors.New("recording store unavailable")
	}
	return d.store.List(ctx, statuses...)
}

// GetRecording returns a single recording by ID, nil when absent.
func (d *Daemon) GetRecording(ctx context.Context, id int64) (*recordings.Recording, error) {
	if d.store == nil {
		return nil, errors.New("recording store unavailable")
	}
	return d.store.GetByID(ctx, id)
}

// Retry re-opens failed recordings so the worker picks them up again. With no
// IDs it retries every failed recording; rows not in a failed state are
// skipped.
func (d *Daemon) Retry(ctx context.Context, ids []int64) (int64, error) {
	if d.store == nil {
		return 0, errors.New("recording store unavailable")
	}
	if len(ids) == 0 {
		failed, err := d.store.List(ctx, recordings.StatusFailed)
		if err != nil {
			return 0, err
		}
		for _, rec := range failed {
			ids = append(ids, rec.ID)
		}
	}
	var updated int64
	for _, id := range ids {
		rec, err := d.store.GetByID(ctx, id)
		if err != nil {
			return updated, err
		}
		if rec == nil || rec.Status != recordings.StatusFailed {
			continue
		}
		if err := d.store.ResetForRetry(ctx, id); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// RemoveRecording deletes a recording row. In-flight rows are refused so the
// worker never loses the job it is heartbeating.
func (d *Daemon) RemoveRecording(ctx context.Context, id int64) error {
	if d.store == nil {
		return errors.New("recording store unavailable")
	}
	rec, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recording %d not found", id)
	}
	if recordings.IsProcessingStatus(rec.Status) {
		return fmt.Errorf("recording %d is being processed; retry after it finishes", id)
	}
	return d.store.Remove(ctx, id)
}

// QueueHealth returns aggregate recording counts.
func (d *Daemon) QueueHealth(ctx context.Context) (recordings.HealthSummary, error) {
	if d.store == nil {
		return recordings.HealthSummary{}, errors.New("recording store unavailable")
	}
	return d.store.Stats(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
	if status.Running {
		status.PID = os.Getpid()
		status.IngestAddr = d.ingest.Addr()
	}
	if summary, err := d.store.Stats(ctx); err == nil {
		status.Queue = summary
	}
	if err := d.manager.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}
