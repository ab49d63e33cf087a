package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

var activitySchemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS activity_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		name TEXT NOT NULL,
		success INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error_message TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		timestamp_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_events(timestamp_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_events(event_type);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_success ON activity_events(success);`,
}

// ActivityEvent is a post-hoc analytics record of one tool or workflow
// invocation, written by the tool surface and workflow library.
type ActivityEvent struct {
	Type         string // "tool_invocation" | "workflow_execution"
	Name         string
	Success      bool
	DurationMs   int64
	ErrorMessage string
	Metadata     map[string]any
	TimestampMs  int64
}

// ActivityStore is the analytics event table.
type ActivityStore struct {
	db *DB
}

func OpenActivityStore(path string) (*ActivityStore, error) {
	db, err := Open(path, activitySchemaStmts)
	if err != nil {
		return nil, err
	}
	return &ActivityStore{db: db}, nil
}

func (s *ActivityStore) Close() error { return s.db.Close() }

func (s *ActivityStore) Record(ctx context.Context, e ActivityEvent) error {
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("activity: marshal metadata: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`INSERT INTO activity_events (event_type, name, success, duration_ms, error_message, metadata, timestamp_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.Name, boolToInt(e.Success), e.DurationMs, nullableString(e.ErrorMessage), string(metaJSON), e.TimestampMs)
	if err != nil {
		return fmt.Errorf("activity: insert event: %w", err)
	}
	return nil
}

// ActivityFilter selects a subset of events; zero values mean "no constraint".
type ActivityFilter struct {
	Type    string
	Success *bool
	Since   time.Time
	Until   time.Time
	Limit   int
}

func (s *ActivityStore) Query(ctx context.Context, f ActivityFilter) ([]ActivityEvent, error) {
	clauses := []string{"1=1"}
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.Type)
	}
	if f.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, boolToInt(*f.Success))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp_ms >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp_ms <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	q := fmt.Sprintf(`SELECT event_type, name, success, duration_ms, error_message, metadata, timestamp_ms
		FROM activity_events WHERE %s ORDER BY timestamp_ms DESC`, joinAnd(clauses))
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: query: %w", err)
	}
	defer rows.Close()

	var out []ActivityEvent
	for rows.Next() {
		var e ActivityEvent
		var errMsg *string
		var success int
		var metaJSON string
		if err := rows.Scan(&e.Type, &e.Name, &success, &e.DurationMs, &errMsg, &metaJSON, &e.TimestampMs); err != nil {
			return nil, fmt.Errorf("activity: scan row: %w", err)
		}
		e.Success = success != 0
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
