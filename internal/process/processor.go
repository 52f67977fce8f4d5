package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"caster/internal/config"
	"caster/internal/fileutil"
	"caster/internal/logging"
	"caster/internal/recordings"
	"caster/internal/services"
	"caster/internal/services/llm"
	"caster/internal/textutil"
)

// Transcriber produces the spoken text for a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
}

// Summarizer produces metadata and the long-form educational summary.
type Summarizer interface {
	SummarizeTranscript(ctx context.Context, transcript string) (llm.Metadata, error)
	EducationalSummary(ctx context.Context, transcript string) (string, error)
}

// Processor runs one recording through download, transcription, and
// summarization. Stage transitions are persisted so status queries see
// progress while the pipeline runs.
type Processor struct {
	store       *recordings.Store
	transcriber Transcriber
	summarizer  Summarizer
	scratchRoot string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewProcessor builds a processor rooted at the configured staging area.
func NewProcessor(cfg *config.Config, store *recordings.Store, transcriber Transcriber, summarizer Summarizer, logger *slog.Logger) *Processor {
	return &Processor{
		store:       store,
		transcriber: transcriber,
		summarizer:  summarizer,
		scratchRoot: filepath.Join(cfg.Paths.StagingDir, "scratch"),
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		logger:      logging.NewComponentLogger(logger, "process"),
	}
}

// Process runs the full pipeline for one recording. On success the recording
// is completed and persisted; on failure the caller records the terminal
// state. Scratch space is removed on every path out, including panics.
func (p *Processor) Process(ctx context.Context, rec *recordings.Recording) (err error) {
	ctx = services.WithMediaID(ctx, rec.MediaID)
	logger := p.logger.With(logging.String(logging.FieldMediaID, rec.MediaID))

	scratchDir := filepath.Join(p.scratchRoot, fmt.Sprintf("recording-%d", rec.ID))
	if mkErr := os.MkdirAll(scratchDir, 0o755); mkErr != nil {
		return fmt.Errorf("process: create scratch dir: %w", mkErr)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			logger.Warn("scratch cleanup failed", logging.Error(rmErr))
		}
		if r := recover(); r != nil {
			logger.Error("processing panicked",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("process: panic: %v", r)
		}
	}()

	if err := p.setStage(ctx, rec, recordings.StatusDownloading, "Fetching uploaded media"); err != nil {
		return err
	}
	mediaPath, err := p.fetchSource(ctx, rec.SourceURL, scratchDir)
	if err != nil {
		return fmt.Errorf("process: fetch source: %w", err)
	}

	if err := p.setStage(ctx, rec, recordings.StatusTranscribing, "Transcribing audio"); err != nil {
		return err
	}
	transcript, transcribeErr := p.transcriber.Transcribe(ctx, mediaPath)
	degraded := transcribeErr != nil
	if degraded {
		// Transcription outages must not lose the recording: store a
		// placeholder naming the failure and keep going. Summarization and
		// keyword extraction still run against the placeholder text.
		transcript = fmt.Sprintf("%s: %v", textutil.NoTranscriptPlaceholder, transcribeErr)
		logger.Warn("transcription unavailable, continuing with placeholder",
			logging.Error(transcribeErr),
			logging.String(logging.FieldEventType, "transcription_degraded"),
			logging.String(logging.FieldImpact, "recording completes without a real transcript"),
			logging.String(logging.FieldErrorHint, "check the transcription service and retry the recording"),
		)
	}

	if err := p.setStage(ctx, rec, recordings.StatusSummarizing, "Generating summary"); err != nil {
		return err
	}
	title, summary, err := p.summarize(ctx, logger, rec, transcript)
	if err != nil {
		return err
	}

	keywords := textutil.ExtractKeywords(transcript)

	rec.SetCompleted(transcript, summary, title, keywords)
	if err := p.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("process: persist completion: %w", err)
	}
	logger.Info("processing complete",
		logging.String("title", rec.Title),
		logging.Int("keywords", len(keywords)),
		logging.Bool("degraded", degraded),
	)
	return nil
}

func (p *Processor) summarize(ctx context.Context, logger *slog.Logger, rec *recordings.Recording, transcript string) (string, string, error) {
	meta, err := p.summarizer.SummarizeTranscript(ctx, transcript)
	if err != nil {
		return "", "", fmt.Errorf("process: summarize metadata: %w", err)
	}
	title := meta.Title
	if title == "" {
		title = textutil.DeriveTitle(transcript, rec.CreatedAt)
	}

	summary, err := p.summarizer.EducationalSummary(ctx, transcript)
	if err != nil {
		// The short metadata summary stands in; not worth failing the job.
		logger.Warn("educational summary failed, using short summary",
			logging.Error(err),
		)
		summary = meta.Summary
	}
	if summary == "" {
		summary = meta.Summary
	}
	return title, summary, nil
}

func (p *Processor) setStage(ctx context.Context, rec *recordings.Recording, status recordings.Status, description string) error {
	rec.SetStage(status, description)
	if err := p.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("process: persist %s stage: %w", status, err)
	}
	return nil
}

// fetchSource materializes the uploaded media in scratch space. Sources are
// either staged local files or HTTP URLs.
func (p *Processor) fetchSource(ctx context.Context, source, scratchDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("recording has no source")
	}
	dest := filepath.Join(scratchDir, filepath.Base(strings.TrimRight(source, "/")))

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return "", err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("download %s: http %d", source, resp.StatusCode)
		}
		return dest, copyToFile(dest, resp.Body)
	}

	// Staged uploads are copied with integrity verification so a corrupt
	// read surfaces here instead of as a garbled transcript.
	return dest, fileutil.CopyFileVerified(source, dest)
}

func copyToFile(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
