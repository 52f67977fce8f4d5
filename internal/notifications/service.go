package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caster/internal/config"
)

const userAgent = "Caster-Go/0.1.0"

// Service defines the notification surface exposed to processing components.
type Service interface {
	NotifyRecordingReceived(ctx context.Context, filename string) error
	NotifyProcessingCompleted(ctx context.Context, title string) error
	NotifyRetryScheduled(ctx context.Context, filename string, attempt, maxAttempts int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendReceived:  cfg.Notifications.Received,
		sendCompleted: cfg.Notifications.Completed,
		sendErrors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	sendReceived  bool
	sendCompleted bool
	sendErrors    bool
}

func (n *ntfyService) NotifyRecordingReceived(ctx context.Context, filename string) error {
	if !n.sendReceived {
		return nil
	}
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Caster - Recording Received",
		message: fmt.Sprintf("Recording received for processing: %s", filename),
		tags:    []string{"caster", "recording", "received"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessingCompleted(ctx context.Context, title string) error {
	if !n.sendCompleted {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:    "Caster - Complete",
		message:  fmt.Sprintf("Recording processed: %s", title),
		tags:     []string{"caster", "processing", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRetryScheduled(ctx context.Context, filename string, attempt, maxAttempts int) error {
	if !n.sendErrors {
		return nil
	}
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Caster - Retry Scheduled",
		message: fmt.Sprintf("Processing failed for %s, retrying (attempt %d of %d)", filename, attempt, maxAttempts),
		tags:    []string{"caster", "processing", "retry"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.sendErrors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Caster - Error",
		message:  builder.String(),
		tags:     []string{"caster", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Caster - Test",
		message:  "Notification system test",
		tags:     []string{"caster", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("X-Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("X-Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("X-Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRecordingReceived(context.Context, string) error        { return nil }
func (noopService) NotifyProcessingCompleted(context.Context, string) error      { return nil }
func (noopService) NotifyRetryScheduled(context.Context, string, int, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
