package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("call record not found")

// InsertCall writes one terminal call record. call_id is UNIQUE, so a
// duplicate insert of the same call fails loudly instead of silently
// doubling a record.
func (m *Manager) InsertCall(ctx context.Context, rec record.CallRecord) error {
	_, err := m.writer.ExecContext(ctx, `
INSERT INTO ai_call_logs (
  call_id, request_fingerprint, step, route, prompt_template_id, project_id,
  model_provider, model_name, status, duration_ms, error_message, log_directory, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.CallID,
		rec.RequestFingerprint,
		string(rec.Step),
		nullable(rec.Route),
		nullable(rec.PromptTemplateID),
		nullable(rec.ProjectID),
		rec.ModelProvider,
		rec.ModelName,
		string(rec.Status),
		rec.DurationMs,
		nullable(rec.ErrorMessage),
		nullable(rec.LogDirectory),
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// SetLogDirectory backfills the bundle path after the asynchronous file
// write completes. Missing rows are tolerated; the bundle still exists on
// disk and the scan fallback will find it.
func (m *Manager) SetLogDirectory(ctx context.Context, callID, dir string) error {
	_, err := m.writer.ExecContext(ctx,
		"UPDATE ai_call_logs SET log_directory = ? WHERE call_id = ?", dir, callID)
	if err != nil {
		return fmt.Errorf("backfill log directory: %w", err)
	}
	return nil
}

// LatestByFingerprintPrefix resolves the most recent record whose
// fingerprint starts with the given prefix.
func (m *Manager) LatestByFingerprintPrefix(ctx context.Context, prefix string) (record.CallRecord, error) {
	row := m.reader.QueryRowContext(ctx, `
SELECT `+callColumns+`
FROM ai_call_logs
WHERE request_fingerprint LIKE ? || '%'
ORDER BY created_at DESC, id DESC
LIMIT 1
`, prefix)
	rec, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.CallRecord{}, ErrNotFound
	}
	return rec, err
}

const callColumns = `call_id, request_fingerprint, step,
  COALESCE(route,''), COALESCE(prompt_template_id,''), COALESCE(project_id,''),
  model_provider, model_name, status, duration_ms,
  COALESCE(error_message,''), COALESCE(log_directory,''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(s rowScanner) (record.CallRecord, error) {
	var rec record.CallRecord
	var step, status string
	var createdAt int64
	err := s.Scan(
		&rec.CallID,
		&rec.RequestFingerprint,
		&step,
		&rec.Route,
		&rec.PromptTemplateID,
		&rec.ProjectID,
		&rec.ModelProvider,
		&rec.ModelName,
		&status,
		&rec.DurationMs,
		&rec.ErrorMessage,
		&rec.LogDirectory,
		&createdAt,
	)
	if err != nil {
		return record.CallRecord{}, err
	}
	rec.Step = record.Step(step)
	rec.Status = record.Status(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
