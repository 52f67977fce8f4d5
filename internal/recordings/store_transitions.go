package recordings

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight recording.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE recordings SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns recordings stuck in processing stages to
// pending when their worker heartbeat expired, so another worker can pick
// them up. Attempts are preserved; the retry budget still applies.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET status = ?, description = 'Reclaimed from stale processing',
             last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusDownloading, StatusTranscribing, StatusSummarizing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale recordings: %w", err)
	}
	return res.RowsAffected()
}

// ResetForRetry re-opens a failed recording so the pipeline can run again.
func (s *Store) ResetForRetry(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET status = ?, description = 'Retry requested', error_message = '',
             attempts = 0, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("reset recording for retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recording %d is not in a failed state", id)
	}
	return nil
}

// FailInFlight marks all pending and in-flight recordings failed with the
// given reason. Used during daemon shutdown so nothing is left stuck at
// processing=true across restarts.
func (s *Store) FailInFlight(ctx context.Context, reason string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET status = ?, description = ?, error_message = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusFailed, reason, reason,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusPending, StatusDownloading, StatusTranscribing, StatusSummarizing,
	)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight recordings: %w", err)
	}
	return res.RowsAffected()
}
