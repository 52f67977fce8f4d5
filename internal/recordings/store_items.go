package recordings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const recordingColumns = `id, media_id, user_id, workspace_id, source_url, artifact_path,
    status, description, transcript, summary, title, keywords_json, error_message,
    attempts, last_heartbeat, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var (
		rec          Recording
		status       string
		keywordsJSON string
		heartbeat    sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&rec.ID, &rec.MediaID, &rec.UserID, &rec.WorkspaceID, &rec.SourceURL, &rec.ArtifactPath,
		&status, &rec.Description, &rec.Transcript, &rec.Summary, &rec.Title, &keywordsJSON,
		&rec.ErrorMessage, &rec.Attempts, &heartbeat, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if heartbeat.Valid {
		ts, err := time.Parse(time.RFC3339Nano, heartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parse heartbeat: %w", err)
		}
		rec.LastHeartbeat = &ts
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

// Reserve creates a pending recording row for a media identifier. Reserving an
// already-known media id is idempotent and returns the existing row, so a
// client retrying requestProcessing after a reconnect does not duplicate jobs.
func (s *Store) Reserve(ctx context.Context, mediaID, userID, workspaceID, sourceURL, artifactPath string) (*Recording, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return nil, errors.New("media id required")
	}

	if existing, err := s.GetByMediaID(ctx, mediaID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO recordings (
            media_id, user_id, workspace_id, source_url, artifact_path,
            status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mediaID, userID, workspaceID, sourceURL, artifactPath,
		StatusPending, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert recording: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a recording by row identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// GetByMediaID fetches a recording by media identifier. Returns nil when absent.
func (s *Store) GetByMediaID(ctx context.Context, mediaID string) (*Recording, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE media_id = ?`,
		strings.TrimSpace(mediaID),
	)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording by media id: %w", err)
	}
	return rec, nil
}

// Update persists changes to an existing recording.
func (s *Store) Update(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return errors.New("recording is nil")
	}
	rec.UpdatedAt = time.Now().UTC()

	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	if rec.Keywords == nil {
		keywordsJSON = []byte("[]")
	}

	var heartbeat any
	if rec.LastHeartbeat != nil {
		heartbeat = rec.LastHeartbeat.UTC().Format(time.RFC3339Nano)
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE recordings SET
            user_id = ?, workspace_id = ?, source_url = ?, artifact_path = ?,
            status = ?, description = ?, transcript = ?, summary = ?, title = ?,
            keywords_json = ?, error_message = ?, attempts = ?, last_heartbeat = ?,
            updated_at = ?
        WHERE id = ?`,
		rec.UserID, rec.WorkspaceID, rec.SourceURL, rec.ArtifactPath,
		rec.Status, rec.Description, rec.Transcript, rec.Summary, rec.Title,
		string(keywordsJSON), rec.ErrorMessage, rec.Attempts, heartbeat,
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.ID,
	); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return nil
}

// List returns recordings filtered by status (all when no statuses given),
// newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var result []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// NextForStatuses returns the oldest recording in any of the given statuses.
// Returns nil when the queue is drained.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Recording, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordingColumns+` FROM recordings
         WHERE status IN (`+strings.Join(placeholders, ", ")+`)
         ORDER BY id LIMIT 1`,
		args...,
	)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next recording: %w", err)
	}
	return rec, nil
}

// Stats returns aggregate counts per lifecycle state.
func (s *Store) Stats(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM recordings GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("recording stats: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan stats: %w", err)
		}
		summary.Total += count
		switch Status(status) {
		case StatusPending:
			summary.Pending += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		default:
			if IsProcessingStatus(Status(status)) {
				summary.Processing += count
			}
		}
	}
	return summary, rows.Err()
}

// Remove deletes a recording row by identifier.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove recording: %w", err)
	}
	return nil
}
