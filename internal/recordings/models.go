package recordings

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a recording.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusTranscribing,
	StatusSummarizing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading:  {},
	StatusTranscribing: {},
	StatusSummarizing:  {},
}

// Recording represents a processed-media record persisted in SQLite.
type Recording struct {
	ID            int64
	MediaID       string
	UserID        string
	WorkspaceID   string
	SourceURL     string
	ArtifactPath  string
	Status        Status
	Description   string
	Transcript    string
	Summary       string
	Title         string
	Keywords      []string
	ErrorMessage  string
	Attempts      int
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HealthSummary describes aggregated recording counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight pipeline stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// Processing reports whether the recording is between job acceptance and a
// terminal update. Pending rows count: the job has been accepted into the
// queue even if a worker has not yet claimed it.
func (r Recording) Processing() bool {
	if r.Status == StatusPending {
		return true
	}
	return IsProcessingStatus(r.Status)
}

// Terminal reports whether the recording has reached completed or failed.
func (r Recording) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// SetStage moves the recording into an in-flight stage with a status description.
func (r *Recording) SetStage(status Status, description string) {
	r.Status = status
	r.Description = description
	r.ErrorMessage = ""
}

// SetFailed marks the recording as failed with the given message. Clears the
// heartbeat so the row is not mistaken for an in-flight job.
func (r *Recording) SetFailed(message string) {
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.Description = message
	r.LastHeartbeat = nil
}

// SetCompleted writes the terminal success fields. The stored description is
// replaced with the summary text, and an empty derived title never overwrites
// an existing one.
func (r *Recording) SetCompleted(transcript, summary, title string, keywords []string) {
	r.Status = StatusCompleted
	r.Transcript = transcript
	r.Summary = summary
	r.Description = summary
	if strings.TrimSpace(title) != "" {
		r.Title = title
	}
	r.Keywords = keywords
	r.ErrorMessage = ""
	r.LastHeartbeat = nil
}
