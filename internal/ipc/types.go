package ipc

import (
	"time"

	"caster/internal/recordings"
)

// StartRequest asks the daemon to begin processing.
type StartRequest struct{}

// StartResponse reports the result of a start request.
type StartResponse struct {
	Started bool
	Message string
}

// StopRequest asks the daemon to halt processing.
type StopRequest struct{}

// StopResponse reports the result of a stop request.
type StopResponse struct {
	Stopped bool
}

// StatusRequest retrieves daemon runtime information.
type StatusRequest struct{}

// StatusResponse carries daemon runtime information.
type StatusResponse struct {
	Running      bool
	PID          int
	DatabasePath string
	LockPath     string
	IngestAddr   string
	LastError    string
	Queue        QueueHealth
}

// QueueHealth summarizes recording counts per lifecycle state.
type QueueHealth struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// RecordingSummary is the wire representation used in listings.
type RecordingSummary struct {
	ID           int64
	MediaID      string
	UserID       string
	WorkspaceID  string
	ArtifactPath string
	Status       string
	Title        string
	Description  string
	ErrorMessage string
	Attempts     int
	CreatedAt    string
	UpdatedAt    string
}

// RecordingDetail extends the summary with full processing output.
type RecordingDetail struct {
	RecordingSummary
	Transcript string
	Summary    string
	Keywords   []string
}

// FromRecording converts a store model into its wire summary.
func FromRecording(rec *recordings.Recording) RecordingSummary {
	if rec == nil {
		return RecordingSummary{}
	}
	return RecordingSummary{
		ID:           rec.ID,
		MediaID:      rec.MediaID,
		UserID:       rec.UserID,
		WorkspaceID:  rec.WorkspaceID,
		ArtifactPath: rec.ArtifactPath,
		Status:       string(rec.Status),
		Title:        rec.Title,
		Description:  rec.Description,
		ErrorMessage: rec.ErrorMessage,
		Attempts:     rec.Attempts,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// DetailFromRecording converts a store model into its full wire form.
func DetailFromRecording(rec *recordings.Recording) RecordingDetail {
	detail := RecordingDetail{RecordingSummary: FromRecording(rec)}
	if rec != nil {
		detail.Transcript = rec.Transcript
		detail.Summary = rec.Summary
		detail.Keywords = append(detail.Keywords, rec.Keywords...)
	}
	return detail
}

// RecordingListRequest filters recordings by optional statuses.
type RecordingListRequest struct {
	Statuses []string
}

// RecordingListResponse carries matching recordings.
type RecordingListResponse struct {
	Items []RecordingSummary
}

// RecordingDescribeRequest fetches one recording by ID.
type RecordingDescribeRequest struct {
	ID int64
}

// RecordingDescribeResponse carries the requested recording.
type RecordingDescribeResponse struct {
	Item RecordingDetail
}

// RetryRequest re-opens failed recordings. Empty IDs retries all failed rows.
type RetryRequest struct {
	IDs []int64
}

// RetryResponse reports how many recordings were re-opened.
type RetryResponse struct {
	Updated int64
}

// RemoveRequest deletes one recording by ID.
type RemoveRequest struct {
	ID int64
}

// RemoveResponse reports the removal result.
type RemoveResponse struct {
	Removed bool
}

// QueueHealthRequest retrieves aggregate queue diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse carries aggregate queue diagnostics.
type QueueHealthResponse struct {
	QueueHealth
}

// LogTailRequest reads daemon log lines. A negative offset tails the file end.
type LogTailRequest struct {
	Offset     int64
	Limit      int
	Follow     bool
	WaitMillis int64
}

// LogTailResponse carries log lines and the next read offset.
type LogTailResponse struct {
	Lines  []string
	Offset int64
}

// TestNotificationRequest triggers a test push notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification outcome.
type TestNotificationResponse struct {
	Sent    bool
	Message string
}
