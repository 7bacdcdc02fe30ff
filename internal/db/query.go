package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

// Filters compose conjunctively over the call index. Zero values mean
// "no constraint".
type Filters struct {
	Start      time.Time
	End        time.Time
	Steps      []string
	Statuses   []string
	Models     []string
	PromptID   string
	ProjectID  string
	SearchHash string
}

func (f Filters) where() (string, []any) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if !f.Start.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Start.UnixMilli())
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.End.UnixMilli())
	}
	for col, vals := range map[string][]string{
		"step":       f.Steps,
		"status":     f.Statuses,
		"model_name": f.Models,
	} {
		if len(vals) == 0 {
			continue
		}
		ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, ph))
		for _, v := range vals {
			args = append(args, v)
		}
	}
	if f.PromptID != "" {
		clauses = append(clauses, "prompt_template_id = ?")
		args = append(args, f.PromptID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.SearchHash != "" {
		clauses = append(clauses, "request_fingerprint LIKE '%' || ? || '%'")
		args = append(args, f.SearchHash)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListCalls returns one newest-first page plus the unpaged total.
func (m *Manager) ListCalls(ctx context.Context, f Filters, limit, offset int) ([]record.CallRecord, int64, error) {
	where, args := f.where()

	var total int64
	if err := m.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM ai_call_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count call records: %w", err)
	}

	query := "SELECT " + callColumns + " FROM ai_call_logs" + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := m.reader.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	out := make([]record.CallRecord, 0, limit)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

type Aggregate struct {
	TotalCalls   int64
	SuccessCalls int64
	AvgDuration  float64
}

func (m *Manager) AggregateCalls(ctx context.Context, f Filters) (Aggregate, error) {
	where, args := f.where()
	var agg Aggregate
	err := m.reader.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
       COALESCE(AVG(duration_ms), 0)
FROM ai_call_logs`+where, args...).Scan(&agg.TotalCalls, &agg.SuccessCalls, &agg.AvgDuration)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate call records: %w", err)
	}
	return agg, nil
}

type FailureRow struct {
	Status       record.Status
	ErrorMessage string
}

// FailureRows streams status plus free-text error message for every
// non-success record matching the filters; bucket classification over the
// text happens in the monitor layer.
func (m *Manager) FailureRows(ctx context.Context, f Filters) ([]FailureRow, error) {
	where, args := f.where()
	if where == "" {
		where = " WHERE status != 'success'"
	} else {
		where += " AND status != 'success'"
	}

	rows, err := m.reader.QueryContext(ctx,
		"SELECT status, COALESCE(error_message,'') FROM ai_call_logs"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query failure rows: %w", err)
	}
	defer rows.Close()

	var out []FailureRow
	for rows.Next() {
		var fr FailureRow
		var status string
		if err := rows.Scan(&status, &fr.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		fr.Status = record.Status(status)
		out = append(out, fr)
	}
	return out, rows.Err()
}
